package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig configures one MQTT client connection.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds; zero selects the 60 s default.
	KeepAlive uint16

	// SessionExpiry in seconds. Zero ends the session on disconnect.
	SessionExpiry uint32

	// ConnectTimeout bounds each connection attempt; zero selects 5 s.
	ConnectTimeout time.Duration

	// CleanStart discards server-side session state on the first connect.
	CleanStart bool

	// TLSConfig is used for tls:// broker URLs. Nil means plaintext.
	TLSConfig *tls.Config

	// Last-will message, published by the broker on unexpected disconnect.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool
}

// setDefaultConfig fills the zero-valued timing fields.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}
}

// Validate rejects configs the connection manager cannot work with.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("broker url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("broker url %q needs a scheme and host", c.BrokerURL)
	}
	return nil
}
