// Package server wires the runners together: the embedded MQTT broker, the
// event bus, the OTA catalog, the protocol adapters and the image server,
// all supervised by one errgroup that defines the process lifetime.
package server

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/devlink-io/devlink/internal/admin"
	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/catalog"
	"github.com/devlink-io/devlink/internal/imageserver"
	"github.com/devlink-io/devlink/internal/mqttadapter"
	"github.com/devlink-io/devlink/internal/mqttserver"
	"github.com/devlink-io/devlink/internal/ota/storage"
	"github.com/devlink-io/devlink/internal/store"
	"github.com/devlink-io/devlink/internal/telemetry"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/mqtt"
)

// Runner is the common interface of every long-lived task.
type Runner func(ctx context.Context) error

// Server holds the wired components.
type Server struct {
	st      *store.Store
	runners []Runner
}

// NewServer builds every component from the configuration and registers the
// steady-state runners with the broker.
func (cfg *Config) NewServer() (*Server, error) {
	st, err := store.Open(cfg.OtaOptions.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	broker := bus.NewBroker()

	blobs := storage.NewLocalProvider(cfg.OtaOptions.ImagePath)

	var mirror storage.Provider
	if cfg.S3Options.Enabled() {
		mirror, err = storage.NewMinIOProvider(cfg.S3Options)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init s3 mirror: %w", err)
		}
		if err := storage.EnsureBucket(context.Background(), mirror); err != nil {
			log.Error(err, "S3 mirror bucket check failed, continuing")
		}
	}

	cat := catalog.New(st, blobs, mirror,
		catalog.Settings{URL: cfg.OtaOptions.URL}, broker.Send)
	broker.Register(catalog.RunnerName, cat.Sender())

	mqttSrv, err := mqttserver.New(cfg.MqttOptions)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init mqtt broker: %w", err)
	}

	client, err := mqtt.NewClient(cfg.MqttOptions.ToClientConfig())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init mqtt client: %w", err)
	}
	adapter := mqttadapter.New(client, broker)
	broker.Register(mqttadapter.RunnerName, adapter.Sender())

	images := imageserver.New(cfg.OtaOptions)

	runners := []Runner{
		broker.Run,
		st.RunFlusher,
		mqttSrv.Start,
		adapter.Run,
		cat.Run,
		images.Start,
	}

	if cfg.AdminOptions.Enabled() {
		adminSrv := admin.NewServer(cfg.AdminOptions, broker)
		broker.Register(admin.RunnerName, adminSrv.Sender())
		runners = append(runners, adminSrv.Run)
	}

	if cfg.InfluxOptions.Enabled() {
		writer := telemetry.NewWriter(cfg.InfluxOptions)
		broker.Register(telemetry.RunnerName, writer.Sender())
		runners = append(runners, writer.Run)
	}

	return &Server{st: st, runners: runners}, nil
}

// Run launches all runners in parallel and blocks until the first failure or
// until ctx is cancelled. The store is closed on the way out.
func (s *Server) Run(ctx context.Context) error {
	defer s.st.Close()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		g.Go(func() error {
			return r(ctx)
		})
	}

	log.Info("All runners starting...", "count", len(s.runners))
	return g.Wait()
}
