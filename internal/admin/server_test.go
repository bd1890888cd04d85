package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/pkg/options"
)

const testKey = "sesame"

// startTestServer serves the admin socket over httptest and runs the broker
// so commands decoded from the socket land on the capture channel.
func startTestServer(t *testing.T) (*Server, string, <-chan bus.Event) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := bus.NewBroker()
	capture := make(chan bus.Event, 16)
	broker.Register("capture", capture)
	go broker.Run(ctx)

	opts := options.NewAdminOptions()
	opts.APIKey = testKey
	srv := NewServer(opts, broker)
	broker.Register(RunnerName, srv.Sender())
	go srv.relayLoop(ctx)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.handleSocket(ctx, w, r)
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	return srv, url, capture
}

func dialTest(t *testing.T, url, key string) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, key)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func TestRejectsBadKey(t *testing.T) {
	_, url, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Dial(ctx, url, "wrong"); err == nil {
		t.Fatal("handshake with a bad key succeeded")
	}
	if _, err := Dial(ctx, url, ""); err == nil {
		t.Fatal("handshake without a key succeeded")
	}
}

func TestCommandReachesBus(t *testing.T) {
	_, url, capture := startTestServer(t)
	client := dialTest(t, url, testKey)

	if err := client.Send(ManagementData{Cmd: CmdGetGroupList}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case ev := <-capture:
		if _, ok := ev.(bus.OtaGroupListRequest); !ok {
			t.Errorf("bus got %T, want OtaGroupListRequest", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the bus")
	}
}

func TestMalformedFrameIsDropped(t *testing.T) {
	_, url, capture := startTestServer(t)
	client := dialTest(t, url, testKey)

	// Garbage, then a valid frame; the session must survive the first.
	if err := client.Send(ManagementData{Cmd: Command(99)}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := client.Send(ManagementData{Cmd: CmdGetImageList}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case ev := <-capture:
		if _, ok := ev.(bus.OtaImageListRequest); !ok {
			t.Errorf("bus got %T, want OtaImageListRequest", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid command never reached the bus")
	}
}

func TestResponseRelayedToSession(t *testing.T) {
	srv, url, _ := startTestServer(t)
	client := dialTest(t, url, testKey)

	// The session registers asynchronously; wait until the slot is taken.
	waitForActiveSession(t, srv)

	srv.Sender() <- bus.OtaGroupListResponse{Groups: []string{"fleet-a"}}

	rd, err := client.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if rd.Kind != RespGroupList {
		t.Errorf("kind = %d, want RespGroupList", rd.Kind)
	}
}

func TestSecondSessionIsRejected(t *testing.T) {
	srv, url, _ := startTestServer(t)
	dialTest(t, url, testKey)
	waitForActiveSession(t, srv)

	second := dialTest(t, url, testKey)

	// The server upgrades and then immediately closes the second connection.
	if _, err := second.ReadResponse(); err == nil {
		t.Error("second session stayed open")
	}

	srv.mu.Lock()
	active := srv.active
	srv.mu.Unlock()
	if active == nil {
		t.Error("first session lost its slot")
	}
}

func TestSlotFreedAfterDisconnect(t *testing.T) {
	srv, url, _ := startTestServer(t)

	first := dialTest(t, url, testKey)
	waitForActiveSession(t, srv)
	first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		free := srv.active == nil
		srv.mu.Unlock()
		if free {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session slot never freed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A new operator can connect now.
	dialTest(t, url, testKey)
	waitForActiveSession(t, srv)
}

func waitForActiveSession(t *testing.T, srv *Server) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		active := srv.active
		srv.mu.Unlock()
		if active != nil {
			if got := active.state(); got != StateOpen {
				t.Fatalf("session state = %q, want %q", got, StateOpen)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no session became active")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
