package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/devlink-io/devlink/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the embedded MQTT broker and the local client the
// adapter uses to talk to it.
type MqttOptions struct {
	// Port is the mutual-TLS listener devices connect to.
	Port uint16 `json:"port" mapstructure:"port"`

	// LocalPort is a plaintext listener bound to localhost for in-process
	// clients (the adapter). Devices never see it.
	LocalPort uint16 `json:"local-port" mapstructure:"local-port"`

	// CertFile, KeyFile and CAFile hold the server certificate, its key and
	// the CA used to verify device client certificates.
	CertFile string `json:"cert-file" mapstructure:"cert-file"`
	KeyFile  string `json:"key-file" mapstructure:"key-file"`
	CAFile   string `json:"ca-file" mapstructure:"ca-file"`

	// ClientID identifies the local adapter client.
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior.
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Port:           8883,
		LocalPort:      11883,
		ClientID:       "devlink-server",
		KeepAlive:      60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		SessionExpiry:  60,
		CleanStart:     true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Port == 0 {
		errs = append(errs, errors.New("mqtt.port must be set"))
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		errs = append(errs, errors.New("mqtt.cert-file and mqtt.key-file must be set together"))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Uint16Var(&o.Port, "mqtt.port", o.Port, "The mutual-TLS MQTT listener port for devices.")
	fs.Uint16Var(&o.LocalPort, "mqtt.local-port", o.LocalPort, "The localhost MQTT listener port for in-process clients.")
	fs.StringVar(&o.CertFile, "mqtt.cert-file", o.CertFile, "Path to the broker server certificate.")
	fs.StringVar(&o.KeyFile, "mqtt.key-file", o.KeyFile, "Path to the broker server key.")
	fs.StringVar(&o.CAFile, "mqtt.ca-file", o.CAFile, "Path to the CA certificate verifying device client certs.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Client ID of the local adapter client.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing the MQTT connection.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
}

// ToClientConfig builds the local client configuration for the adapter.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:      fmt.Sprintf("tcp://127.0.0.1:%d", o.LocalPort),
		ClientID:       o.ClientID,
		KeepAlive:      uint16(o.KeepAlive.Seconds()),
		SessionExpiry:  o.SessionExpiry,
		ConnectTimeout: o.ConnectTimeout,
		CleanStart:     o.CleanStart,
	}
}
