package database

import (
	"path/filepath"
	"testing"

	"github.com/pulselabs/pulse/backend/internal/presence"
	"go.uber.org/zap"
)

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "schema.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{
		"users", "user_presences", "messages",
		"memos", "memo_recipients", "tasks", "task_participants",
		"db_migrations",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after migration", table)
		}
	}
}

func TestBootResetsStalePresence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presence.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	stale := presence.Presence{UserID: "user-a", ConnectionID: "conn-dead", Online: true}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("failed to seed presence row: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access connection: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("failed to close connection: %v", err)
	}

	// Reopening simulates a process restart.
	db, err = OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}

	var record presence.Presence
	if err := db.Take(&record, "user_id = ?", "user-a").Error; err != nil {
		t.Fatalf("failed to load presence row: %v", err)
	}
	if record.Online || record.ConnectionID != "" {
		t.Fatalf("expected stale presence cleared on boot, got %#v", record)
	}
	if record.LastSeenS == nil {
		t.Fatal("expected last seen recorded for cleared presence")
	}
}
