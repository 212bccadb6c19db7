package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulselabs/pulse/backend/internal/auth"
	"github.com/pulselabs/pulse/backend/internal/ident"
	"github.com/pulselabs/pulse/backend/internal/memos"
	"github.com/pulselabs/pulse/backend/internal/messaging"
	"github.com/pulselabs/pulse/backend/internal/presence"
	"github.com/pulselabs/pulse/backend/internal/realtime"
	"github.com/pulselabs/pulse/backend/internal/relay"
	"github.com/pulselabs/pulse/backend/internal/tasks"
	"github.com/pulselabs/pulse/backend/internal/users"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const disconnectTimeout = 5 * time.Second

var (
	errMissingSocketAuth     = errors.New("socket: handshake authenticator required")
	errMissingSocketHub      = errors.New("socket: hub required")
	errMissingSocketRelay    = errors.New("socket: relay required")
	errMissingSocketPresence = errors.New("socket: presence tracker required")
	errMissingSocketIDs      = errors.New("socket: id provider required")
)

// SocketHandlerConfig bundles the socket endpoint dependencies.
type SocketHandlerConfig struct {
	Authenticator  *auth.HandshakeAuthenticator
	Hub            *realtime.Hub
	Relay          *relay.Relay
	Presence       *presence.Tracker
	IDProvider     ident.Provider
	OriginPatterns []string
	Logger         *zap.Logger
}

type eventHandler func(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage)

// SocketHandler accepts websocket connections, authenticates the handshake,
// binds the connection to its user's presence and personal room, and
// dispatches client events to the relay.
type SocketHandler struct {
	authenticator *auth.HandshakeAuthenticator
	hub           *realtime.Hub
	relay         *relay.Relay
	presence      *presence.Tracker
	ids           ident.Provider
	origins       []string
	logger        *zap.Logger
	handlers      map[string]eventHandler
}

// NewSocketHandler constructs the handler and its dispatch table.
func NewSocketHandler(cfg SocketHandlerConfig) (*SocketHandler, error) {
	if cfg.Authenticator == nil {
		return nil, errMissingSocketAuth
	}
	if cfg.Hub == nil {
		return nil, errMissingSocketHub
	}
	if cfg.Relay == nil {
		return nil, errMissingSocketRelay
	}
	if cfg.Presence == nil {
		return nil, errMissingSocketPresence
	}
	if cfg.IDProvider == nil {
		return nil, errMissingSocketIDs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &SocketHandler{
		authenticator: cfg.Authenticator,
		hub:           cfg.Hub,
		relay:         cfg.Relay,
		presence:      cfg.Presence,
		ids:           cfg.IDProvider,
		origins:       cfg.OriginPatterns,
		logger:        logger,
	}
	handler.handlers = map[string]eventHandler{
		realtime.EventJoinConversations: handler.handleJoinConversations,
		realtime.EventSendMessage:       handler.handleSendMessage,
		realtime.EventMarkMessageRead:   handler.handleMarkMessageRead,
		realtime.EventTyping:            handler.handleTyping,
		realtime.EventCreateMemo:        handler.handleCreateMemo,
		realtime.EventAcknowledgeMemo:   handler.handleAcknowledgeMemo,
		realtime.EventUpdateTask:        handler.handleUpdateTask,
	}
	return handler, nil
}

// Handle runs the full connection lifecycle: handshake, registration, read
// loop, teardown. A rejected handshake is refused before any connection state
// exists.
func (h *SocketHandler) Handle(c *gin.Context) {
	identity, err := h.authenticator.Authenticate(c.Request)
	if err != nil {
		status, code := handshakeRefusal(err)
		c.JSON(status, apiEnvelope{
			Success:   false,
			Message:   "handshake refused",
			Error:     code,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	acceptOptions := &websocket.AcceptOptions{}
	if len(h.origins) > 0 {
		acceptOptions.OriginPatterns = h.origins
	}
	conn, err := websocket.Accept(c.Writer, c.Request, acceptOptions)
	if err != nil {
		// Accept already wrote the error response.
		return
	}

	sessionID, err := h.ids.NewID()
	if err != nil {
		h.logger.Error("session id generation failed", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	session := realtime.NewSocketSession(sessionID, identity.UserID, conn, h.logger)
	h.hub.Register(session)
	h.presence.HandleConnect(c.Request.Context(), identity.UserID, sessionID)
	h.logger.Info("socket connected",
		zap.String("session_id", sessionID),
		zap.String("user_id", identity.UserID))

	defer func() {
		h.hub.Unregister(sessionID)
		disconnectCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		h.presence.HandleDisconnect(disconnectCtx, identity.UserID, sessionID)
		cancel()
		session.Close(websocket.StatusNormalClosure, "bye")
		h.logger.Info("socket disconnected",
			zap.String("session_id", sessionID),
			zap.String("user_id", identity.UserID))
	}()

	for {
		var envelope realtime.InboundEnvelope
		if err := session.ReadEnvelope(c.Request.Context(), &envelope); err != nil {
			return
		}
		handler, ok := h.handlers[envelope.Event]
		if !ok {
			h.logger.Debug("unknown socket event",
				zap.String("session_id", sessionID),
				zap.String("event", envelope.Event))
			continue
		}
		handler(c.Request.Context(), session, identity, envelope.Data)
	}
}

func handshakeRefusal(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential"
	case errors.Is(err, auth.ErrUnknownSubject):
		return http.StatusUnauthorized, "unknown_subject"
	default:
		return http.StatusInternalServerError, "handshake_failed"
	}
}

type socketErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Emits the scoped error to the origin connection only, never broadcast.
func (h *SocketHandler) emitScopedError(session *realtime.SocketSession, eventName string, err error) {
	code := "persistence_failure"
	switch {
	case errors.Is(err, relay.ErrAuthorizationDenied):
		code = "authorization_denied"
	case errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, memos.ErrMemoNotFound),
		errors.Is(err, memos.ErrNotRecipient),
		errors.Is(err, tasks.ErrTaskNotFound):
		code = "not_found"
	case isInvalidRequest(err):
		code = "invalid_request"
	}
	session.Enqueue(realtime.Envelope{
		Event: eventName,
		Data:  socketErrorPayload{Code: code, Message: err.Error()},
	})
}

type joinConversationsPayload struct {
	ConversationIDs []string `json:"conversation_ids"`
}

func (h *SocketHandler) handleJoinConversations(_ context.Context, session *realtime.SocketSession, _ auth.Identity, data json.RawMessage) {
	var payload joinConversationsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	rooms := make([]string, 0, len(payload.ConversationIDs))
	for _, conversationID := range payload.ConversationIDs {
		if conversationID != "" {
			rooms = append(rooms, realtime.ConversationRoom(conversationID))
		}
	}
	h.hub.JoinRooms(session.ID(), rooms)
}

func (h *SocketHandler) handleSendMessage(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var request relay.SendMessageRequest
	if err := json.Unmarshal(data, &request); err != nil {
		h.emitScopedError(session, realtime.EventMessageError, err)
		return
	}
	if _, err := h.relay.SendMessage(ctx, identity.UserID, request); err != nil {
		h.emitScopedError(session, realtime.EventMessageError, err)
	}
}

type markMessageReadPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

func (h *SocketHandler) handleMarkMessageRead(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var payload markMessageReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.emitScopedError(session, realtime.EventMessageError, err)
		return
	}
	if _, err := h.relay.MarkMessageRead(ctx, identity.UserID, payload.MessageID); err != nil {
		h.emitScopedError(session, realtime.EventMessageError, err)
	}
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

func (h *SocketHandler) handleTyping(_ context.Context, _ *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	h.relay.Typing(identity.UserID, payload.ConversationID, payload.IsTyping)
}

func (h *SocketHandler) handleCreateMemo(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var request relay.CreateMemoRequest
	if err := json.Unmarshal(data, &request); err != nil {
		h.emitScopedError(session, realtime.EventMemoError, err)
		return
	}
	if _, err := h.relay.CreateMemo(ctx, identity.UserID, users.Role(identity.Role), request); err != nil {
		h.emitScopedError(session, realtime.EventMemoError, err)
	}
}

type acknowledgeMemoSocketPayload struct {
	MemoID  string `json:"memo_id"`
	Comment string `json:"comment"`
}

func (h *SocketHandler) handleAcknowledgeMemo(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var payload acknowledgeMemoSocketPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.emitScopedError(session, realtime.EventMemoError, err)
		return
	}
	if _, err := h.relay.AcknowledgeMemo(ctx, identity.UserID, payload.MemoID, payload.Comment); err != nil {
		h.emitScopedError(session, realtime.EventMemoError, err)
	}
}

func (h *SocketHandler) handleUpdateTask(ctx context.Context, session *realtime.SocketSession, identity auth.Identity, data json.RawMessage) {
	var request relay.UpdateTaskRequest
	if err := json.Unmarshal(data, &request); err != nil {
		h.emitScopedError(session, realtime.EventTaskError, err)
		return
	}
	if _, err := h.relay.UpdateTask(ctx, identity.UserID, request); err != nil {
		h.emitScopedError(session, realtime.EventTaskError, err)
	}
}
