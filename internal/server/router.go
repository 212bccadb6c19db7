package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pulselabs/pulse/backend/internal/auth"
	"github.com/pulselabs/pulse/backend/internal/memos"
	"github.com/pulselabs/pulse/backend/internal/messaging"
	"github.com/pulselabs/pulse/backend/internal/presence"
	"github.com/pulselabs/pulse/backend/internal/relay"
	"github.com/pulselabs/pulse/backend/internal/svcerr"
	"github.com/pulselabs/pulse/backend/internal/tasks"
	"github.com/pulselabs/pulse/backend/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "pulse_user_id"
	userRoleContextKey = "pulse_user_role"
)

var (
	errMissingAuthenticator = errors.New("handshake authenticator dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingRelay         = errors.New("relay dependency required")
	errMissingUsers         = errors.New("users service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates backend tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject, role string) (string, int64, error)
	ValidateToken(token string) (auth.TokenClaims, error)
}

// Dependencies wires the HTTP surface to the realtime layer.
type Dependencies struct {
	Authenticator  *auth.HandshakeAuthenticator
	TokenManager   TokenManager
	Users          *users.Service
	Relay          *relay.Relay
	Presence       *presence.Tracker
	Socket         *SocketHandler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the auth, socket and relay
// write endpoints. REST-originated and socket-originated writes converge on
// the same relay flows.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Relay == nil {
		return nil, errMissingRelay
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		users:    deps.Users,
		relay:    deps.Relay,
		presence: deps.Presence,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	if deps.Socket != nil {
		router.GET("/ws", deps.Socket.Handle)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/messages", handler.handleSendMessage)
	protected.POST("/messages/:id/read", handler.handleMarkMessageRead)
	protected.POST("/memos", handler.handleCreateMemo)
	protected.POST("/memos/:id/ack", handler.handleAcknowledgeMemo)
	protected.PATCH("/tasks/:id", handler.handleUpdateTask)
	protected.GET("/presence/:userID", handler.handleGetPresence)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	users    *users.Service
	relay    *relay.Relay
	presence *presence.Tracker
	logger   *zap.Logger
}

// apiEnvelope is the JSON envelope shared by all REST responses.
type apiEnvelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func respondData(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, apiEnvelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondError(c *gin.Context, status int, message, code string) {
	c.JSON(status, apiEnvelope{
		Success:   false,
		Message:   message,
		Error:     code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type issueTokenPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token issuance here is deliberately minimal: the deployment fronts this
// endpoint with its identity proxy, which is trusted to have authenticated
// the user already.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request issueTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		respondError(c, http.StatusBadRequest, "user_id is required", "invalid_request")
		return
	}

	account, err := h.users.GetByID(c.Request.Context(), request.UserID)
	if errors.Is(err, users.ErrUnknownUser) {
		respondError(c, http.StatusUnauthorized, "unknown user", "unknown_subject")
		return
	}
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "user lookup failed", "persistence_failure")
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.UserID, string(account.Role))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "token issue failed", "token_issue_failed")
		return
	}

	respondData(c, http.StatusOK, "token issued", tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request relay.SendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}

	view, err := h.relay.SendMessage(c.Request.Context(), c.GetString(userIDContextKey), request)
	if err != nil {
		h.respondRelayError(c, err, "send message failed")
		return
	}
	respondData(c, http.StatusCreated, "message sent", view)
}

type markReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

func (h *httpHandler) handleMarkMessageRead(c *gin.Context) {
	var request markReadPayload
	_ = c.ShouldBindJSON(&request)

	payload, err := h.relay.MarkMessageRead(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		h.respondRelayError(c, err, "mark read failed")
		return
	}
	respondData(c, http.StatusOK, "message marked read", payload)
}

func (h *httpHandler) handleCreateMemo(c *gin.Context) {
	var request relay.CreateMemoRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}

	role := users.Role(c.GetString(userRoleContextKey))
	payload, err := h.relay.CreateMemo(c.Request.Context(), c.GetString(userIDContextKey), role, request)
	if err != nil {
		h.respondRelayError(c, err, "create memo failed")
		return
	}
	respondData(c, http.StatusCreated, "memo created", payload)
}

type acknowledgeMemoPayload struct {
	Comment string `json:"comment"`
}

func (h *httpHandler) handleAcknowledgeMemo(c *gin.Context) {
	var request acknowledgeMemoPayload
	_ = c.ShouldBindJSON(&request)

	payload, err := h.relay.AcknowledgeMemo(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.Comment)
	if err != nil {
		h.respondRelayError(c, err, "acknowledge memo failed")
		return
	}
	respondData(c, http.StatusOK, "memo acknowledged", payload)
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	var request relay.UpdateTaskRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", "invalid_request")
		return
	}
	request.TaskID = c.Param("id")

	payload, err := h.relay.UpdateTask(c.Request.Context(), c.GetString(userIDContextKey), request)
	if err != nil {
		h.respondRelayError(c, err, "update task failed")
		return
	}
	respondData(c, http.StatusOK, "task updated", payload)
}

func (h *httpHandler) handleGetPresence(c *gin.Context) {
	if h.presence == nil {
		respondError(c, http.StatusNotFound, "presence unavailable", "not_found")
		return
	}
	record, err := h.presence.Get(c.Request.Context(), c.Param("userID"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "presence lookup failed", "persistence_failure")
		return
	}
	respondData(c, http.StatusOK, "presence", presence.StatusPayload{
		UserID:   record.UserID,
		Online:   record.Online,
		LastSeen: record.LastSeenS,
	})
}

func (h *httpHandler) respondRelayError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, relay.ErrAuthorizationDenied):
		respondError(c, http.StatusForbidden, message, "authorization_denied")
	case errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, memos.ErrMemoNotFound),
		errors.Is(err, memos.ErrNotRecipient),
		errors.Is(err, tasks.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, message, "not_found")
	case isInvalidRequest(err):
		respondError(c, http.StatusBadRequest, message, "invalid_request")
	default:
		h.logger.Error("relay write failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, message, "persistence_failure")
	}
}

func isInvalidRequest(err error) bool {
	var coded *svcerr.Error
	if !errors.As(err, &coded) {
		return false
	}
	return strings.HasSuffix(coded.Code(), ".invalid_request")
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiEnvelope{
			Success:   false,
			Message:   errInvalidAuthorization.Error(),
			Error:     "unauthenticated",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, apiEnvelope{
			Success:   false,
			Message:   "unauthorized",
			Error:     "invalid_credential",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(userRoleContextKey, claims.Role)
	c.Next()
}
