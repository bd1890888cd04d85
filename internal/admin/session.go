package admin

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/devlink-io/devlink/pkg/log"
)

// Session lifecycle states.
const (
	StateIdle          = "idle"
	StateConnecting    = "connecting"
	StateAuthenticated = "authenticated"
	StateOpen          = "open"
	StateClosed        = "closed"
)

// Session lifecycle transitions.
const (
	eventConnect      = "connect"
	eventAuthenticate = "authenticate"
	eventOpen         = "open"
	eventClose        = "close"
)

// session is one admin WebSocket connection. Its lifecycle is tracked by a
// small state machine; once closed it never reopens.
type session struct {
	conn *websocket.Conn
	fsm  *fsm.FSM

	writeMu sync.Mutex
	logger  log.Logger
}

func newSession(conn *websocket.Conn, logger log.Logger) *session {
	s := &session{
		conn:   conn,
		logger: logger,
	}

	s.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventConnect, Src: []string{StateIdle}, Dst: StateConnecting},
			{Name: eventAuthenticate, Src: []string{StateConnecting}, Dst: StateAuthenticated},
			{Name: eventOpen, Src: []string{StateAuthenticated}, Dst: StateOpen},
			{Name: eventClose, Src: []string{StateConnecting, StateAuthenticated, StateOpen}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("Session state change", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return s
}

func (s *session) transition(ctx context.Context, event string) {
	if err := s.fsm.Event(ctx, event); err != nil {
		s.logger.Warn("Invalid session transition", "event", event, "state", s.fsm.Current())
	}
}

// state returns the current lifecycle state.
func (s *session) state() string {
	return s.fsm.Current()
}

// send writes one binary frame. Safe for concurrent use; the relay loop and
// the close path may race on the connection otherwise.
func (s *session) send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// close ends the connection and drives the state machine to closed.
func (s *session) close(ctx context.Context) {
	s.transition(ctx, eventClose)
	_ = s.conn.Close()
}
