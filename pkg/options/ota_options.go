package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OtaOptions)(nil)

// OtaOptions configures the OTA catalog: where the KV database and firmware
// image tree live, which port serves downloads, and the base URL advertised
// to devices.
type OtaOptions struct {
	// URL is the base URL devices prepend to relative file paths,
	// e.g. "http://backend.example.com:8085".
	URL string `json:"url" mapstructure:"url"`

	// DBPath is the file path of the embedded KV database.
	DBPath string `json:"db-path" mapstructure:"db-path"`

	// HTTPPort is the read-only firmware download port.
	HTTPPort uint16 `json:"http-port" mapstructure:"http-port"`

	// ImagePath is the root of the firmware image tree.
	ImagePath string `json:"image-path" mapstructure:"image-path"`
}

// NewOtaOptions creates a new OtaOptions with default values.
func NewOtaOptions() *OtaOptions {
	return &OtaOptions{
		DBPath:    "/var/lib/devlink/ota.db",
		HTTPPort:  8085,
		ImagePath: "/var/lib/devlink/images",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *OtaOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.URL == "" {
		errs = append(errs, errors.New("ota.url must be set"))
	}
	if o.DBPath == "" {
		errs = append(errs, errors.New("ota.db-path must be set"))
	}
	if o.ImagePath == "" {
		errs = append(errs, errors.New("ota.image-path must be set"))
	}

	return errs
}

// AddFlags adds flags for OtaOptions to the specified FlagSet.
func (o *OtaOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.URL, "ota.url", o.URL, "Base URL advertised to devices for firmware downloads.")
	fs.StringVar(&o.DBPath, "ota.db-path", o.DBPath, "Path of the embedded KV database file.")
	fs.Uint16Var(&o.HTTPPort, "ota.http-port", o.HTTPPort, "Port of the firmware image HTTP server.")
	fs.StringVar(&o.ImagePath, "ota.image-path", o.ImagePath, "Root directory of the firmware image tree.")
}
