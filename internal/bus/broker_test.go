package bus

import (
	"context"
	"testing"
	"time"
)

func startBroker(t *testing.T, b *Broker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	a := make(chan Event, 4)
	c := make(chan Event, 4)
	b.Register("a", a)
	b.Register("c", c)

	startBroker(t, b)

	b.Send(OtaDeletePackage{UpdateID: "1.0.0-0-deadbeef"})

	for name, ch := range map[string]<-chan Event{"a": a, "c": c} {
		ev := recvEvent(t, ch)
		del, ok := ev.(OtaDeletePackage)
		if !ok || del.UpdateID != "1.0.0-0-deadbeef" {
			t.Errorf("runner %s got %+v", name, ev)
		}
	}
}

func TestBrokerDuplicateRegistration(t *testing.T) {
	b := NewBroker()
	first := make(chan Event, 1)
	second := make(chan Event, 1)

	b.Register("dup", first)
	b.Register("dup", second)

	startBroker(t, b)
	b.Send(OtaGroupListRequest{})

	recvEvent(t, first)
	select {
	case <-second:
		t.Error("duplicate registration replaced the original runner")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerDropsOnFullRunner(t *testing.T) {
	b := NewBroker()
	full := make(chan Event) // no buffer, nobody reading
	open := make(chan Event, 4)
	b.Register("full", full)
	b.Register("open", open)

	startBroker(t, b)

	// Neither send may block even though one recipient can't keep up.
	b.Send(OtaGroupListRequest{})
	b.Send(OtaImageListRequest{})

	recvEvent(t, open)
	recvEvent(t, open)
}

func TestBrokerNewRunnerEvent(t *testing.T) {
	b := NewBroker()
	startBroker(t, b)

	late := make(chan Event, 4)
	b.Send(NewRunner{Name: "late", Sender: late})
	b.Send(OtaGroupListRequest{})

	ev := recvEvent(t, late)
	if _, ok := ev.(OtaGroupListRequest); !ok {
		t.Errorf("late runner got %T, want OtaGroupListRequest", ev)
	}
}

func TestEventKinds(t *testing.T) {
	events := []Event{
		NewRunner{}, OtaNewPackage{}, OtaDeletePackage{}, OtaLink{}, OtaUnlink{},
		OtaRequest{}, OtaResponse{}, OtaAddResponse{},
		OtaGroupListRequest{}, OtaGroupListResponse{},
		OtaImageListRequest{}, OtaImageListResponse{},
		ApplicationRequest{}, ApplicationResponse{},
		ApplicationManagementRequest{}, ApplicationManagementResponse{},
		InfluxDataSave{},
	}

	seen := map[string]bool{}
	for _, ev := range events {
		kind := ev.Kind()
		if kind == "" {
			t.Errorf("%T has empty kind", ev)
		}
		if seen[kind] {
			t.Errorf("duplicate kind %q", kind)
		}
		seen[kind] = true
	}
}
