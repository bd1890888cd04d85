package server

import (
	"github.com/devlink-io/devlink/pkg/options"
)

// Config carries the validated option groups the server is built from.
type Config struct {
	MqttOptions  *options.MqttOptions
	AdminOptions *options.AdminOptions
	OtaOptions   *options.OtaOptions

	// Optional collaborators; nil disables them.
	InfluxOptions *options.InfluxOptions
	S3Options     *options.S3Options
}
