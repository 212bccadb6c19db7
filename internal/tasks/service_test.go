package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/pulselabs/pulse/backend/internal/ident"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Task{}, &Participant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC) },
		IDProvider: ident.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func createTestTask(t *testing.T, service *Service) Task {
	t.Helper()
	record, err := service.Create(context.Background(), CreateRequest{
		CreatorID:   "creator-1",
		Title:       "Ship release",
		Description: "Cut the release branch.",
		AssigneeIDs: []string{"assignee-1"},
		FollowerIDs: []string{"follower-1"},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return record
}

func stringPtr(value string) *string {
	return &value
}

func TestCreatePersistsTaskAndParticipants(t *testing.T) {
	service := newTestService(t)

	record := createTestTask(t, service)

	if record.TaskID == "" {
		t.Fatal("expected generated task id")
	}
	if record.Status != "open" {
		t.Fatalf("expected initial status open, got %s", record.Status)
	}

	var participants []Participant
	if err := service.db.Where("task_id = ?", record.TaskID).Find(&participants).Error; err != nil {
		t.Fatalf("failed to load participants: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(participants))
	}
	roles := map[string]ParticipantRole{}
	for _, participant := range participants {
		roles[participant.UserID] = participant.Role
	}
	if roles["assignee-1"] != RoleAssignee || roles["follower-1"] != RoleFollower {
		t.Fatalf("unexpected participant roles %#v", roles)
	}
}

func TestUpdateByCreatorAppliesChangedFields(t *testing.T) {
	service := newTestService(t)
	record := createTestTask(t, service)

	updated, err := service.Update(context.Background(), UpdateRequest{
		TaskID:  record.TaskID,
		ActorID: "creator-1",
		Status:  stringPtr("done"),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Status != "done" {
		t.Fatalf("expected status done, got %s", updated.Status)
	}
	if updated.Title != record.Title {
		t.Fatalf("unset fields must stay unchanged, got title %q", updated.Title)
	}
}

func TestUpdateByAssigneeIsAllowed(t *testing.T) {
	service := newTestService(t)
	record := createTestTask(t, service)

	updated, err := service.Update(context.Background(), UpdateRequest{
		TaskID:  record.TaskID,
		ActorID: "assignee-1",
		Title:   stringPtr("Ship hotfix"),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Title != "Ship hotfix" {
		t.Fatalf("expected updated title, got %q", updated.Title)
	}
}

func TestUpdateDeniesFollowersAndStrangers(t *testing.T) {
	service := newTestService(t)
	record := createTestTask(t, service)

	for _, actorID := range []string{"follower-1", "stranger", ""} {
		_, err := service.Update(context.Background(), UpdateRequest{
			TaskID:  record.TaskID,
			ActorID: actorID,
			Status:  stringPtr("done"),
		})
		if !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized for actor %q, got %v", actorID, err)
		}
	}

	var stored Task
	if err := service.db.Take(&stored, "task_id = ?", record.TaskID).Error; err != nil {
		t.Fatalf("failed to load stored task: %v", err)
	}
	if stored.Status != "open" {
		t.Fatalf("denied update must leave task untouched, got status %s", stored.Status)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	service := newTestService(t)

	_, err := service.Update(context.Background(), UpdateRequest{
		TaskID:  "missing",
		ActorID: "creator-1",
		Status:  stringPtr("done"),
	})
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAudienceIncludesCreatorAssigneesAndFollowers(t *testing.T) {
	service := newTestService(t)
	record := createTestTask(t, service)

	audience, err := service.AudienceUserIDs(context.Background(), record.TaskID)
	if err != nil {
		t.Fatalf("unexpected audience error: %v", err)
	}
	if len(audience) != 3 {
		t.Fatalf("expected 3 audience members, got %v", audience)
	}
	if audience[0] != "creator-1" {
		t.Fatalf("expected creator first, got %v", audience)
	}
	members := map[string]struct{}{}
	for _, userID := range audience {
		members[userID] = struct{}{}
	}
	for _, userID := range []string{"creator-1", "assignee-1", "follower-1"} {
		if _, ok := members[userID]; !ok {
			t.Fatalf("expected %s in audience %v", userID, audience)
		}
	}
}

func TestAudienceDeduplicatesCreatorParticipant(t *testing.T) {
	service := newTestService(t)

	record, err := service.Create(context.Background(), CreateRequest{
		CreatorID:   "creator-1",
		Title:       "Self-assigned",
		AssigneeIDs: []string{"creator-1"},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	audience, err := service.AudienceUserIDs(context.Background(), record.TaskID)
	if err != nil {
		t.Fatalf("unexpected audience error: %v", err)
	}
	if len(audience) != 1 || audience[0] != "creator-1" {
		t.Fatalf("expected deduplicated audience, got %v", audience)
	}
}
