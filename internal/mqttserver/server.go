// Package mqttserver embeds the MQTT broker devices connect to. Devices
// authenticate with mutual TLS on the public listener; in-process clients
// use a plaintext listener bound to localhost.
package mqttserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

// Server wraps the embedded broker.
type Server struct {
	srv    *mochi.Server
	opts   *options.MqttOptions
	logger log.Logger
}

// New builds the broker with its device and local listeners. The device
// listener is only added when certificate material is configured.
func New(opts *options.MqttOptions) (*Server, error) {
	srv := mochi.New(&mochi.Options{})

	// Transport-level identity (mTLS) is the only authentication layer;
	// topic-level ACLs are out of scope.
	if err := srv.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	if opts.CertFile != "" {
		tlsCfg, err := deviceTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		devices := listeners.NewTCP(listeners.Config{
			ID:        "devices",
			Address:   fmt.Sprintf(":%d", opts.Port),
			TLSConfig: tlsCfg,
		})
		if err := srv.AddListener(devices); err != nil {
			return nil, fmt.Errorf("add device listener: %w", err)
		}
	}

	local := listeners.NewTCP(listeners.Config{
		ID:      "local",
		Address: fmt.Sprintf("127.0.0.1:%d", opts.LocalPort),
	})
	if err := srv.AddListener(local); err != nil {
		return nil, fmt.Errorf("add local listener: %w", err)
	}

	return &Server{
		srv:    srv,
		opts:   opts,
		logger: log.WithName("mqttserver"),
	}, nil
}

// Start runs the broker until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Embedded MQTT broker starting",
		"devicePort", s.opts.Port, "localPort", s.opts.LocalPort)

	if err := s.srv.Serve(); err != nil {
		return fmt.Errorf("mqtt broker: %w", err)
	}

	<-ctx.Done()
	s.logger.Info("Stopping embedded MQTT broker...")
	_ = s.srv.Close()
	return ctx.Err()
}

// deviceTLSConfig builds the mutual-TLS config of the device listener.
func deviceTLSConfig(opts *options.MqttOptions) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load broker certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if opts.CAFile != "" {
		caPEM, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in %s", opts.CAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}
