package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/devlink-io/devlink/internal/server"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

// ServerOptions aggregates every option group of the server binary. The
// mapstructure tags name the sections of the configuration file.
type ServerOptions struct {
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	AdminOptions  *options.AdminOptions  `json:"admin" mapstructure:"admin"`
	OtaOptions    *options.OtaOptions    `json:"ota" mapstructure:"ota"`
	InfluxOptions *options.InfluxOptions `json:"influx" mapstructure:"influx"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

func NewServerOptions() *ServerOptions {
	o := &ServerOptions{
		MqttOptions:   options.NewMqttOptions(),
		AdminOptions:  options.NewAdminOptions(),
		OtaOptions:    options.NewOtaOptions(),
		InfluxOptions: options.NewInfluxOptions(),
		S3Options:     options.NewS3Options(),
		Log:           log.NewOptions(),
	}

	return o
}

func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.MqttOptions.AddFlags(fs)
	o.AdminOptions.AddFlags(fs)
	o.OtaOptions.AddFlags(fs)
	o.InfluxOptions.AddFlags(fs)
	o.S3Options.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *ServerOptions) Complete() error {
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.AdminOptions.Validate()...)
	errs = append(errs, o.OtaOptions.Validate()...)
	errs = append(errs, o.InfluxOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

func (o *ServerOptions) Config() (*server.Config, error) {
	return &server.Config{
		MqttOptions:   o.MqttOptions,
		AdminOptions:  o.AdminOptions,
		OtaOptions:    o.OtaOptions,
		InfluxOptions: o.InfluxOptions,
		S3Options:     o.S3Options,
	}, nil
}
