// Package mqttadapter bridges the MQTT side of the system onto the event
// bus: it decodes device uplinks into events and publishes response events
// back to per-device topics.
package mqttadapter

import (
	"context"
	"time"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/metrics"
	"github.com/devlink-io/devlink/internal/telemetry"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/mqtt"
)

// RunnerName is the adapter's name in the broker registry.
const RunnerName = "mqtt"

const publishQoS = 1

// Adapter connects as a local client to the embedded broker, subscribes to
// every device uplink and relays bus events back out.
type Adapter struct {
	client mqtt.Client
	broker *bus.Broker
	in     chan bus.Event
	logger log.Logger
}

// New creates the adapter over an MQTT client and the event broker.
func New(client mqtt.Client, broker *bus.Broker) *Adapter {
	return &Adapter{
		client: client,
		broker: broker,
		in:     make(chan bus.Event, bus.ChannelSize),
		logger: log.WithName("mqtt-adapter"),
	}
}

// Sender returns the adapter's inbound event channel for broker registration.
func (a *Adapter) Sender() chan<- bus.Event {
	return a.in
}

// Run connects, subscribes to the uplink filter and processes bus events
// until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.client.Disconnect(shutdownCtx)
	}()

	a.logger.Info("Waiting for MQTT connection...")
	if err := a.client.AwaitConnection(ctx); err != nil {
		return err
	}
	a.logger.Info("MQTT connected")

	if err := a.client.Subscribe(ctx, UplinkFilter, publishQoS, a.handleUplink); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.in:
			a.handleEgress(ctx, ev)
		}
	}
}

// handleUplink decodes one device publish and emits the matching event.
// Decode errors are logged and the message dropped; the MQTT session is
// never torn down over a bad frame.
func (a *Adapter) handleUplink(ctx context.Context, topic string, payload []byte) {
	deviceID, channel, ok := ParseUplink(topic)
	if !ok {
		a.logger.Warn("Unroutable topic dropped", "topic", topic)
		return
	}
	metrics.MqttMessages.WithLabelValues("in", channel).Inc()

	switch channel {
	case ChannelOTA:
		cmd, err := DecodeOtaRequest(payload)
		if err != nil {
			a.logger.Warn("Undecodable OTA request dropped", "deviceID", deviceID, "err", err)
			return
		}
		a.logger.Debug("OTA request", "deviceID", deviceID, "cmd", cmd)
		a.broker.Send(bus.OtaRequest{DeviceID: deviceID, Cmd: cmd})

	case ChannelTelemetry:
		record, err := telemetry.ToLineProtocol(deviceID, payload)
		if err != nil {
			a.logger.Warn("Undecodable telemetry dropped", "deviceID", deviceID, "err", err)
			return
		}
		a.broker.Send(bus.InfluxDataSave{Query: record})

	default:
		a.broker.Send(bus.ApplicationRequest{UID: deviceID, Target: channel, Msg: payload})
	}
}

// handleEgress publishes bus events addressed to devices.
func (a *Adapter) handleEgress(ctx context.Context, ev bus.Event) {
	switch e := ev.(type) {
	case bus.OtaResponse:
		if e.Update == nil || e.Update.UID == "" {
			a.logger.Warn("OTA response without target dropped")
			return
		}
		payload, err := EncodeOtaResponse(e.Update)
		if err != nil {
			a.logger.Error(err, "Encoding OTA response failed", "deviceID", e.Update.UID)
			return
		}
		topic := DownlinkTopic(e.Update.UID, ChannelOTA)
		if err := a.client.Publish(ctx, topic, publishQoS, false, payload); err != nil {
			a.logger.Error(err, "Publishing OTA response failed", "topic", topic)
			return
		}
		metrics.MqttMessages.WithLabelValues("out", ChannelOTA).Inc()

	case bus.ApplicationResponse:
		topic := DownlinkTopic(e.UID, e.Target)
		if err := a.client.Publish(ctx, topic, publishQoS, false, e.Msg); err != nil {
			a.logger.Error(err, "Publishing application response failed", "topic", topic)
			return
		}
		metrics.MqttMessages.WithLabelValues("out", e.Target).Inc()

	default:
		// Not for us.
	}
}
