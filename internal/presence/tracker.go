package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulselabs/pulse/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opHandleConnect    = "presence.handle_connect"
	opHandleDisconnect = "presence.handle_disconnect"
	opIsOnline         = "presence.is_online"
)

var errMissingDatabase = errors.New("presence: database handle is required")

// StatusBroadcaster announces presence transitions to every live connection
// except the transitioning user's own.
type StatusBroadcaster interface {
	BroadcastExcept(excludedUserID, eventName string, payload interface{}) int
}

// TrackerConfig bundles the tracker dependencies.
type TrackerConfig struct {
	Database    *gorm.DB
	Broadcaster StatusBroadcaster
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Tracker maintains a single current connection handle per user. A second
// connection from the same user silently overwrites the stored handle
// (last-writer-wins); delivery targets only the most recent connection.
type Tracker struct {
	db          *gorm.DB
	broadcaster StatusBroadcaster
	clock       func() time.Time
	logger      *zap.Logger
}

// NewTracker constructs a presence tracker.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		db:          cfg.Database,
		broadcaster: cfg.Broadcaster,
		clock:       clock,
		logger:      logger,
	}, nil
}

// HandleConnect records the user as online on the given connection and
// announces user_online to all other connected parties. Persistence failures
// are logged and swallowed; they never abort the connection lifecycle.
func (t *Tracker) HandleConnect(ctx context.Context, userID, connectionID string) {
	record := Presence{
		UserID:       userID,
		ConnectionID: connectionID,
		Online:       true,
		LastSeenS:    nil,
	}
	if err := t.db.WithContext(ctx).Save(&record).Error; err != nil {
		t.logSwallowed(opHandleConnect, err, userID)
	}

	if t.broadcaster != nil {
		t.broadcaster.BroadcastExcept(userID, realtime.EventUserOnline, StatusPayload{
			UserID:   userID,
			Online:   true,
			LastSeen: nil,
		})
	}
}

// HandleDisconnect marks the user offline and announces user_offline. When
// the stored handle no longer matches, a newer connection has already taken
// over and the stale disconnect is ignored.
func (t *Tracker) HandleDisconnect(ctx context.Context, userID, connectionID string) {
	var current Presence
	err := t.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&current).
		Error
	if err != nil {
		t.logSwallowed(opHandleDisconnect, err, userID)
		return
	}
	if current.ConnectionID != connectionID {
		return
	}

	lastSeen := t.clock().UTC().Unix()
	updates := map[string]interface{}{
		"connection_id": "",
		"online":        false,
		"last_seen_s":   lastSeen,
	}
	if err := t.db.WithContext(ctx).
		Model(&Presence{}).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Updates(updates).
		Error; err != nil {
		t.logSwallowed(opHandleDisconnect, err, userID)
	}

	if t.broadcaster != nil {
		t.broadcaster.BroadcastExcept(userID, realtime.EventUserOffline, StatusPayload{
			UserID:   userID,
			Online:   false,
			LastSeen: &lastSeen,
		})
	}
}

// IsOnline reports whether the user currently has a live connection.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	var current Presence
	err := t.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&current).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		t.logSwallowed(opIsOnline, err, userID)
		return false
	}
	return current.Online && current.ConnectionID != ""
}

// Get returns the stored presence row for the user.
func (t *Tracker) Get(ctx context.Context, userID string) (Presence, error) {
	var current Presence
	err := t.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&current).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Presence{UserID: userID}, nil
	}
	if err != nil {
		return Presence{}, fmt.Errorf("presence: load %s: %w", userID, err)
	}
	return current, nil
}

func (t *Tracker) logSwallowed(operation string, err error, userID string) {
	t.logger.Error("presence update failed",
		zap.String("operation", operation),
		zap.String("user_id", userID),
		zap.Error(err))
}
