// Package admin implements the operator control plane: an authenticated
// WebSocket endpoint that decodes management commands onto the event bus and
// streams catalog responses back. At most one session is active at a time.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/metrics"
	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

// RunnerName is the adapter's name in the broker registry.
const RunnerName = "admin"

// SocketPath is the WebSocket endpoint path.
const SocketPath = "/socket"

// APIKeyHeader carries the shared key on the handshake.
const APIKeyHeader = "ApiKey"

// Server is the admin WebSocket adapter.
type Server struct {
	opts   *options.AdminOptions
	broker *bus.Broker
	in     chan bus.Event

	mu     sync.Mutex
	active *session

	upgrader websocket.Upgrader
	logger   log.Logger
}

// NewServer creates the admin adapter.
func NewServer(opts *options.AdminOptions, broker *bus.Broker) *Server {
	return &Server{
		opts:   opts,
		broker: broker,
		in:     make(chan bus.Event, bus.ChannelSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: log.WithName("admin"),
	}
}

// Sender returns the adapter's inbound event channel for broker registration.
func (s *Server) Sender() chan<- bus.Event {
	return s.in
}

// Run serves the WebSocket endpoint and relays bus responses to the active
// session until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleSocket(ctx, w, r)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.opts.Port),
		Handler: mux,
	}

	go s.relayLoop(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Admin control plane listening", "addr", srv.Addr, "path", SocketPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return ctx.Err()
}

func (s *Server) handleSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(APIKeyHeader) != s.opts.APIKey {
		s.logger.Warn("Admin handshake rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	sess := newSession(conn, s.logger)
	sess.transition(ctx, eventConnect)
	sess.transition(ctx, eventAuthenticate)

	// Single-slot policy: a second operator is cut off immediately.
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		s.logger.Warn("Second admin session rejected", "remote", r.RemoteAddr)
		sess.close(ctx)
		return
	}
	s.active = sess
	s.mu.Unlock()

	sess.transition(ctx, eventOpen)
	metrics.AdminSessions.Set(1)
	s.logger.Info("Admin session opened", "remote", r.RemoteAddr)

	s.readLoop(ctx, sess)

	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()

	sess.close(ctx)
	metrics.AdminSessions.Set(0)
	s.logger.Info("Admin session closed", "remote", r.RemoteAddr)
}

// readLoop decodes inbound frames into bus events until the connection
// drops. Malformed frames are logged and dropped, never fatal.
func (s *Server) readLoop(ctx context.Context, sess *session) {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Admin read ended", "err", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.logger.Warn("Non-binary admin frame dropped")
			continue
		}

		ev, err := DecodeCommand(data)
		if err != nil {
			s.logger.Warn("Undecodable admin frame dropped", "err", err)
			continue
		}

		s.logger.Debug("Admin command", "event", ev.Kind())
		s.broker.Send(ev)
	}
}

// relayLoop forwards catalog responses to the active session. Events with no
// admin representation are dropped; no session means the response is lost,
// which mirrors the at-most-one-operator model.
func (s *Server) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.in:
			frame, err := EncodeResponse(ev)
			if err != nil {
				s.logger.Warn("Encoding admin response failed", "event", ev.Kind(), "err", err)
				continue
			}
			if frame == nil {
				continue
			}

			s.mu.Lock()
			sess := s.active
			s.mu.Unlock()
			if sess == nil {
				s.logger.Debug("No admin session, response dropped", "event", ev.Kind())
				continue
			}

			if err := sess.send(frame); err != nil {
				s.logger.Warn("Sending admin response failed", "err", err)
			}
		}
	}
}
