package telemetry

import (
	"context"
	"fmt"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

// RunnerName is the writer's name in the broker registry.
const RunnerName = "influx"

// Writer consumes InfluxDataSave events and writes the records to InfluxDB
// through the 1.x compatibility surface (database + user:password token).
type Writer struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	in     chan bus.Event
	logger log.Logger
}

// NewWriter creates a writer from the optional influx configuration.
func NewWriter(opts *options.InfluxOptions) *Writer {
	token := ""
	if opts.User != "" {
		token = fmt.Sprintf("%s:%s", opts.User, opts.Password)
	}

	client := influxdb2.NewClient(opts.ServerURL(), token)

	// In 1.8 compatibility mode the bucket is "database/retention-policy";
	// an empty policy selects the default one.
	bucket := opts.Database + "/"

	return &Writer{
		client: client,
		write:  client.WriteAPIBlocking("", bucket),
		in:     make(chan bus.Event, bus.ChannelSize),
		logger: log.WithName("influx"),
	}
}

// Sender returns the writer's inbound event channel for broker registration.
func (w *Writer) Sender() chan<- bus.Event {
	return w.in
}

// Run writes telemetry records until ctx is cancelled. Write failures are
// logged and the record dropped; devices keep publishing regardless.
func (w *Writer) Run(ctx context.Context) error {
	defer w.client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.in:
			save, ok := ev.(bus.InfluxDataSave)
			if !ok {
				continue
			}
			record := strings.TrimSpace(save.Query)
			if record == "" {
				continue
			}
			if err := w.write.WriteRecord(ctx, record); err != nil {
				w.logger.Error(err, "Writing telemetry failed")
			}
		}
	}
}
