package mqttadapter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/wire"
	"github.com/devlink-io/devlink/pkg/mqtt"
)

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes and hands the uplink handler back to the test.
type fakeClient struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published chan published
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: make(chan published, 16)}
}

func (f *fakeClient) Start(ctx context.Context) error           { return nil }
func (f *fakeClient) Disconnect(ctx context.Context)            {}
func (f *fakeClient) AwaitConnection(ctx context.Context) error { return nil }
func (f *fakeClient) Unsubscribe(ctx context.Context, topic string) error {
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, topic string, qos int, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	return nil
}

func (f *fakeClient) uplinkHandler() mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	f.published <- published{topic: topic, payload: payload}
	return nil
}

func startAdapter(t *testing.T) (*Adapter, *fakeClient, <-chan bus.Event) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := bus.NewBroker()
	capture := make(chan bus.Event, 16)
	broker.Register("capture", capture)
	go broker.Run(ctx)

	client := newFakeClient()
	adapter := New(client, broker)
	broker.Register(RunnerName, adapter.Sender())
	go adapter.Run(ctx)

	// Run subscribes before processing egress; wait for the handler.
	deadline := time.Now().Add(2 * time.Second)
	for client.uplinkHandler() == nil {
		if time.Now().After(deadline) {
			t.Fatal("adapter never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return adapter, client, capture
}

func recvBusEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return nil
	}
}

func TestUplinkOtaRequest(t *testing.T) {
	_, client, capture := startAdapter(t)

	client.uplinkHandler()(context.Background(), "dev-1/ota/pub", []byte{0})

	ev := recvBusEvent(t, capture)
	req, ok := ev.(bus.OtaRequest)
	if !ok {
		t.Fatalf("bus got %T, want OtaRequest", ev)
	}
	if req.DeviceID != "dev-1" || req.Cmd != ota.CommandCheck {
		t.Errorf("request = %+v", req)
	}
}

func TestUplinkTelemetry(t *testing.T) {
	_, client, capture := startAdapter(t)

	payload, err := wire.Marshal(map[string]any{"rpm": uint64(900)})
	if err != nil {
		t.Fatal(err)
	}
	client.uplinkHandler()(context.Background(), "dev-1/tel/pub", payload)

	ev := recvBusEvent(t, capture)
	save, ok := ev.(bus.InfluxDataSave)
	if !ok {
		t.Fatalf("bus got %T, want InfluxDataSave", ev)
	}
	if !strings.Contains(save.Query, "device=dev-1") || !strings.Contains(save.Query, "rpm=900i") {
		t.Errorf("record = %q", save.Query)
	}
}

func TestUplinkApplicationChannel(t *testing.T) {
	_, client, capture := startAdapter(t)

	client.uplinkHandler()(context.Background(), "dev-1/gps/pub", []byte("opaque"))

	ev := recvBusEvent(t, capture)
	req, ok := ev.(bus.ApplicationRequest)
	if !ok {
		t.Fatalf("bus got %T, want ApplicationRequest", ev)
	}
	if req.UID != "dev-1" || req.Target != "gps" || string(req.Msg) != "opaque" {
		t.Errorf("request = %+v", req)
	}
}

func TestUplinkBadFramesDropped(t *testing.T) {
	_, client, capture := startAdapter(t)

	client.uplinkHandler()(context.Background(), "not-a-device-topic", []byte{0})
	client.uplinkHandler()(context.Background(), "dev-1/ota/pub", []byte{0xff, 0xff})

	select {
	case ev := <-capture:
		t.Errorf("bad frame produced event %T", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEgressOtaResponse(t *testing.T) {
	adapter, client, _ := startAdapter(t)

	pkg := &ota.Package{Version: ota.Version{Major: 1, Hash: [8]byte{'a', 'b', 'c', 'd', 'e', 'f', 'a', 'b'}}}
	adapter.Sender() <- bus.OtaResponse{Update: &ota.Update{UID: "dev-1", Package: pkg}}

	select {
	case p := <-client.published:
		if p.topic != "dev-1/ota/sub" {
			t.Errorf("topic = %q, want dev-1/ota/sub", p.topic)
		}
		var decoded ota.Package
		if err := wire.Unmarshal(p.payload, &decoded); err != nil {
			t.Fatalf("decoding published payload: %v", err)
		}
		if decoded.Version != pkg.Version {
			t.Errorf("published version = %+v", decoded.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
}

func TestEgressNoUpdate(t *testing.T) {
	adapter, client, _ := startAdapter(t)

	adapter.Sender() <- bus.OtaResponse{Update: &ota.Update{UID: "dev-1"}}

	select {
	case p := <-client.published:
		if !bytes.Equal(p.payload, wire.Null) {
			t.Errorf("payload = %x, want the null sentinel", p.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
}

func TestEgressApplicationResponse(t *testing.T) {
	adapter, client, _ := startAdapter(t)

	adapter.Sender() <- bus.ApplicationResponse{UID: "dev-1", Target: "gps", Msg: []byte("raw")}

	select {
	case p := <-client.published:
		if p.topic != "dev-1/gps/sub" || string(p.payload) != "raw" {
			t.Errorf("published %q to %q", p.payload, p.topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}
}

func TestEgressIgnoresForeignEvents(t *testing.T) {
	adapter, client, _ := startAdapter(t)

	adapter.Sender() <- bus.OtaGroupListRequest{}
	adapter.Sender() <- bus.OtaResponse{} // no target

	select {
	case p := <-client.published:
		t.Errorf("foreign event published %q to %q", p.payload, p.topic)
	case <-time.After(100 * time.Millisecond):
	}
}
