package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	sendBufferSize    = 64
	writeTimeout      = 10 * time.Second
	keepAliveInterval = 25 * time.Second
	pingTimeout       = 5 * time.Second
)

// SocketSession binds an accepted websocket connection to an authenticated
// user. Outbound envelopes pass through a buffered channel drained by a single
// write loop, so delivery order matches enqueue order.
type SocketSession struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan Envelope
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewSocketSession wraps the connection and starts its write and keepalive loops.
func NewSocketSession(sessionID, userID string, conn *websocket.Conn, logger *zap.Logger) *SocketSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	session := &SocketSession{
		id:     sessionID,
		userID: userID,
		conn:   conn,
		send:   make(chan Envelope, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	go session.writeLoop()
	go session.keepAliveLoop()
	return session
}

// ID returns the opaque connection handle.
func (s *SocketSession) ID() string {
	return s.id
}

// UserID returns the bound user identifier.
func (s *SocketSession) UserID() string {
	return s.userID
}

// Enqueue offers an envelope for delivery without blocking. It reports false
// when the session is closed or its buffer is full.
func (s *SocketSession) Enqueue(envelope Envelope) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- envelope:
		return true
	default:
		return false
	}
}

// ReadEnvelope blocks until the client sends the next envelope.
func (s *SocketSession) ReadEnvelope(ctx context.Context, envelope *InboundEnvelope) error {
	return wsjson.Read(ctx, s.conn, envelope)
}

// Shutdown closes the connection with a policy-violation status. The hub
// calls it when a newer connection of the same user takes over.
func (s *SocketSession) Shutdown(reason string) {
	s.Close(websocket.StatusPolicyViolation, reason)
}

// Close stops the loops and closes the underlying connection.
func (s *SocketSession) Close(code websocket.StatusCode, reason string) {
	s.cancel()
	if err := s.conn.Close(code, reason); err != nil {
		s.logger.Debug("socket close failed",
			zap.String("session_id", s.id),
			zap.Error(err))
	}
}

func (s *SocketSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case envelope := <-s.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := wsjson.Write(writeCtx, s.conn, envelope); err != nil {
				s.logger.Debug("socket write failed",
					zap.String("session_id", s.id),
					zap.String("event", envelope.Event),
					zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *SocketSession) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			if err := s.conn.Ping(pingCtx); err != nil {
				s.logger.Debug("socket ping failed",
					zap.String("session_id", s.id),
					zap.Error(err))
			}
			cancel()
		}
	}
}
