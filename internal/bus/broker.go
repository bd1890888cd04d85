package bus

import (
	"context"

	"github.com/devlink-io/devlink/internal/metrics"
	"github.com/devlink-io/devlink/pkg/log"
)

// ChannelSize is the buffer of every runner channel. The event rate is
// human-driven or device-polled, so the buffer exists to absorb bursts,
// not to provide backpressure.
const ChannelSize = 256

// Broker owns the runner registry and routes every inbound event to all
// registered runners. It is the only writer of the registry map; runners
// interact with it exclusively through Send.
type Broker struct {
	in      chan Event
	runners map[string]chan<- Event
	logger  log.Logger
}

// NewBroker creates an empty broker. Register the steady-state runners
// before calling Run.
func NewBroker() *Broker {
	return &Broker{
		in:      make(chan Event, ChannelSize),
		runners: make(map[string]chan<- Event),
		logger:  log.WithName("broker"),
	}
}

// Register adds a named runner. Duplicate names are ignored with a warning;
// the registry is append-only for the process lifetime. Register must not be
// called concurrently with Run; late joiners use the NewRunner event instead.
func (b *Broker) Register(name string, sender chan<- Event) {
	if _, ok := b.runners[name]; ok {
		b.logger.Warn("Duplicate runner registration ignored", "runner", name)
		return
	}
	b.runners[name] = sender
	b.logger.Info("Runner registered", "runner", name)
}

// Send queues an event for routing. It never blocks the caller: if the
// broker's own queue is full the event is dropped with a warning.
func (b *Broker) Send(ev Event) {
	select {
	case b.in <- ev:
	default:
		b.logger.Warn("Broker queue full, event dropped", "event", ev.Kind())
	}
}

// Run routes events until ctx is cancelled. Events are fanned out to every
// registered runner; a full or closed recipient channel is logged and the
// recipient stays registered.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("Broker started", "runners", len(b.runners))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.in:
			b.route(ev)
		}
	}
}

func (b *Broker) route(ev Event) {
	metrics.EventsRouted.WithLabelValues(ev.Kind()).Inc()

	if reg, ok := ev.(NewRunner); ok {
		b.Register(reg.Name, reg.Sender)
		return
	}

	for name, sender := range b.runners {
		select {
		case sender <- ev:
		default:
			b.logger.Warn("Runner channel full, event dropped",
				"runner", name, "event", ev.Kind())
			metrics.EventsDropped.WithLabelValues(name).Inc()
		}
	}
}
