package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*AdminOptions)(nil)

// AdminOptions configures the operator WebSocket control plane.
type AdminOptions struct {
	Port   uint16 `json:"port" mapstructure:"port"`
	APIKey string `json:"api-key" mapstructure:"api-key"`
}

// NewAdminOptions creates a new AdminOptions with default values.
func NewAdminOptions() *AdminOptions {
	return &AdminOptions{
		Port: 9001,
	}
}

// Enabled reports whether the control plane was configured. Without an API
// key there is nothing to authenticate against, so the listener stays off.
func (o *AdminOptions) Enabled() bool {
	return o != nil && o.APIKey != ""
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *AdminOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}

	if o.Port == 0 {
		errs = append(errs, errors.New("admin.port must be set"))
	}

	return errs
}

// AddFlags adds flags for AdminOptions to the specified FlagSet.
func (o *AdminOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Uint16Var(&o.Port, "admin.port", o.Port, "The admin WebSocket listener port.")
	fs.StringVar(&o.APIKey, "admin.api-key", o.APIKey, "The shared API key required in the ApiKey header.")
}
