package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*InfluxOptions)(nil)

// InfluxOptions configures the optional telemetry write-through. The fields
// follow the InfluxDB 1.x compatibility surface (database + user/password).
type InfluxOptions struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     uint16 `json:"port" mapstructure:"port"`
	Database string `json:"database" mapstructure:"database"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
}

// NewInfluxOptions creates a new InfluxOptions with default values.
func NewInfluxOptions() *InfluxOptions {
	return &InfluxOptions{
		Host: "127.0.0.1",
		Port: 8086,
	}
}

// Enabled reports whether a telemetry sink was configured at all.
func (o *InfluxOptions) Enabled() bool {
	return o != nil && o.Database != ""
}

// ServerURL returns the HTTP endpoint of the configured InfluxDB.
func (o *InfluxOptions) ServerURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.Port)
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *InfluxOptions) Validate() []error {
	return nil
}

// AddFlags adds flags for InfluxOptions to the specified FlagSet.
func (o *InfluxOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "influx.host", o.Host, "InfluxDB host.")
	fs.Uint16Var(&o.Port, "influx.port", o.Port, "InfluxDB port.")
	fs.StringVar(&o.Database, "influx.database", o.Database, "InfluxDB database; empty disables telemetry write-through.")
	fs.StringVar(&o.User, "influx.user", o.User, "InfluxDB user.")
	fs.StringVar(&o.Password, "influx.password", o.Password, "InfluxDB password.")
}
