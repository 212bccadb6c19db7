package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnauthenticated indicates the handshake carried no credential.
	ErrUnauthenticated = errors.New("auth: credential required")
	// ErrInvalidCredential indicates the credential failed verification.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrUnknownSubject indicates the credential subject resolves to no account.
	ErrUnknownSubject = errors.New("auth: unknown subject")

	errMissingTokenValidator = errors.New("auth: token validator required")
	errMissingSubjectLookup  = errors.New("auth: subject lookup required")
)

// Identity is the minimal account view the socket pipeline needs.
type Identity struct {
	UserID      string
	Role        string
	DisplayName string
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (TokenClaims, error)
}

// SubjectLookup resolves a validated subject to a stored identity. It must
// return an error wrapping ErrUnknownSubject when no account exists.
type SubjectLookup func(ctx context.Context, userID string) (Identity, error)

// HandshakeAuthenticatorConfig bundles the dependencies for handshake checks.
type HandshakeAuthenticatorConfig struct {
	Tokens  TokenValidator
	Lookup  SubjectLookup
	Logger  *zap.Logger
	Timeout time.Duration
}

// HandshakeAuthenticator validates the credential presented at a socket
// handshake and resolves it to a live identity. A failure refuses the
// handshake; no connection state is created on any error path.
type HandshakeAuthenticator struct {
	tokens  TokenValidator
	lookup  SubjectLookup
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandshakeAuthenticator constructs an authenticator with validated configuration.
func NewHandshakeAuthenticator(cfg HandshakeAuthenticatorConfig) (*HandshakeAuthenticator, error) {
	if cfg.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if cfg.Lookup == nil {
		return nil, errMissingSubjectLookup
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HandshakeAuthenticator{
		tokens:  cfg.Tokens,
		lookup:  cfg.Lookup,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Authenticate extracts and verifies the handshake credential from the request.
func (a *HandshakeAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	token := extractToken(r)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		a.logger.Warn("handshake credential rejected", zap.Error(err))
		return Identity{}, ErrInvalidCredential
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	identity, err := a.lookup(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			a.logger.Warn("handshake subject unknown", zap.String("subject", claims.Subject))
			return Identity{}, ErrUnknownSubject
		}
		return Identity{}, err
	}

	if identity.Role == "" {
		identity.Role = claims.Role
	}
	return identity, nil
}

// Browser websocket clients cannot set request headers, so the credential is
// accepted from the token query parameter first and the Authorization header
// as a fallback for non-browser callers.
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
