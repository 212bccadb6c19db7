package presence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pulselabs/pulse/backend/internal/realtime"
	"gorm.io/gorm"
)

type broadcastCall struct {
	excludedUserID string
	eventName      string
	payload        interface{}
}

type recordingBroadcaster struct {
	calls []broadcastCall
}

func (b *recordingBroadcaster) BroadcastExcept(excludedUserID, eventName string, payload interface{}) int {
	b.calls = append(b.calls, broadcastCall{
		excludedUserID: excludedUserID,
		eventName:      eventName,
		payload:        payload,
	})
	return 0
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "presence.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Presence{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestTracker(t *testing.T, db *gorm.DB, broadcaster StatusBroadcaster, clock func() time.Time) *Tracker {
	t.Helper()
	tracker, err := NewTracker(TrackerConfig{
		Database:    db,
		Broadcaster: broadcaster,
		Clock:       clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return tracker
}

func TestTrackerConnectRecordsOnlinePresence(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &recordingBroadcaster{}
	tracker := newTestTracker(t, db, broadcaster, nil)

	tracker.HandleConnect(context.Background(), "user-a", "conn-1")

	record, err := tracker.Get(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !record.Online {
		t.Fatal("expected user to be online")
	}
	if record.ConnectionID != "conn-1" {
		t.Fatalf("unexpected connection id %s", record.ConnectionID)
	}
	if record.LastSeenS != nil {
		t.Fatalf("expected nil last seen while online, got %v", *record.LastSeenS)
	}

	if len(broadcaster.calls) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(broadcaster.calls))
	}
	call := broadcaster.calls[0]
	if call.eventName != realtime.EventUserOnline {
		t.Fatalf("unexpected event %s", call.eventName)
	}
	if call.excludedUserID != "user-a" {
		t.Fatalf("expected connecting user excluded, got %s", call.excludedUserID)
	}
}

func TestTrackerDisconnectRecordsLastSeen(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &recordingBroadcaster{}
	connectAt := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	now := connectAt
	tracker := newTestTracker(t, db, broadcaster, func() time.Time { return now })

	tracker.HandleConnect(context.Background(), "user-a", "conn-1")
	now = connectAt.Add(45 * time.Second)
	tracker.HandleDisconnect(context.Background(), "user-a", "conn-1")

	record, err := tracker.Get(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if record.Online {
		t.Fatal("expected user to be offline")
	}
	if record.ConnectionID != "" {
		t.Fatalf("expected cleared connection id, got %s", record.ConnectionID)
	}
	if record.LastSeenS == nil {
		t.Fatal("expected last seen timestamp after disconnect")
	}
	if *record.LastSeenS < connectAt.Unix() {
		t.Fatalf("expected last seen >= connect time, got %d", *record.LastSeenS)
	}

	offlineBroadcasts := 0
	for _, call := range broadcaster.calls {
		if call.eventName == realtime.EventUserOffline {
			offlineBroadcasts++
			if call.excludedUserID != "user-a" {
				t.Fatalf("expected disconnecting user excluded, got %s", call.excludedUserID)
			}
		}
	}
	if offlineBroadcasts != 1 {
		t.Fatalf("expected exactly one user_offline broadcast, got %d", offlineBroadcasts)
	}
}

func TestTrackerSecondConnectionWins(t *testing.T) {
	db := openTestDB(t)
	tracker := newTestTracker(t, db, &recordingBroadcaster{}, nil)

	tracker.HandleConnect(context.Background(), "user-a", "conn-old")
	tracker.HandleConnect(context.Background(), "user-a", "conn-new")

	record, err := tracker.Get(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if record.ConnectionID != "conn-new" {
		t.Fatalf("expected newest connection to win, got %s", record.ConnectionID)
	}
	if !record.Online {
		t.Fatal("expected user to stay online")
	}
}

func TestTrackerStaleDisconnectIsIgnored(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &recordingBroadcaster{}
	tracker := newTestTracker(t, db, broadcaster, nil)

	tracker.HandleConnect(context.Background(), "user-a", "conn-old")
	tracker.HandleConnect(context.Background(), "user-a", "conn-new")
	tracker.HandleDisconnect(context.Background(), "user-a", "conn-old")

	record, err := tracker.Get(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !record.Online {
		t.Fatal("expected user to remain online after stale disconnect")
	}
	if record.ConnectionID != "conn-new" {
		t.Fatalf("expected newest connection retained, got %s", record.ConnectionID)
	}

	for _, call := range broadcaster.calls {
		if call.eventName == realtime.EventUserOffline {
			t.Fatal("stale disconnect must not broadcast user_offline")
		}
	}
}

func TestTrackerIsOnline(t *testing.T) {
	db := openTestDB(t)
	tracker := newTestTracker(t, db, nil, nil)

	if tracker.IsOnline(context.Background(), "user-a") {
		t.Fatal("expected unknown user to be offline")
	}

	tracker.HandleConnect(context.Background(), "user-a", "conn-1")
	if !tracker.IsOnline(context.Background(), "user-a") {
		t.Fatal("expected connected user to be online")
	}

	tracker.HandleDisconnect(context.Background(), "user-a", "conn-1")
	if tracker.IsOnline(context.Background(), "user-a") {
		t.Fatal("expected disconnected user to be offline")
	}
}

func TestTrackerSwallowsPersistenceFailures(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &recordingBroadcaster{}
	tracker := newTestTracker(t, db, broadcaster, nil)

	if err := db.Migrator().DropTable(&Presence{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	// Must not panic or abort; the connection lifecycle continues.
	tracker.HandleConnect(context.Background(), "user-a", "conn-1")

	if len(broadcaster.calls) != 1 || broadcaster.calls[0].eventName != realtime.EventUserOnline {
		t.Fatalf("expected user_online broadcast despite persistence failure, got %#v", broadcaster.calls)
	}
}
