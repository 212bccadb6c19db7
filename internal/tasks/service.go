package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pulselabs/pulse/backend/internal/ident"
	"github.com/pulselabs/pulse/backend/internal/svcerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "tasks.service.new"
	opCreate     = "tasks.create"
	opUpdate     = "tasks.update"
	opAudience   = "tasks.audience"

	reasonMissingDatabase   = "missing_database"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidRequest    = "invalid_request"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonLookupFailed      = "lookup_failed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrNotAuthorized indicates the actor is neither the task's creator nor
	// one of its assignees.
	ErrNotAuthorized = errors.New("tasks: actor may not modify task")
)

// ServiceConfig bundles task service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Logger     *zap.Logger
}

// Service persists tasks and resolves their broadcast audience.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ident.Provider
	logger *zap.Logger
}

// NewService constructs the task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, svcerr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, svcerr.New(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		logger: logger,
	}, nil
}

// CreateRequest describes a task write.
type CreateRequest struct {
	CreatorID   string
	Title       string
	Description string
	AssigneeIDs []string
	FollowerIDs []string
}

// Create persists the task and its participant rows.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Task, error) {
	if strings.TrimSpace(request.CreatorID) == "" || strings.TrimSpace(request.Title) == "" {
		return Task{}, svcerr.New(opCreate, reasonInvalidRequest, errors.New("creator id and title are required"))
	}

	taskID, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Task{}, svcerr.New(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Task{
		TaskID:      taskID,
		CreatorID:   strings.TrimSpace(request.CreatorID),
		Title:       strings.TrimSpace(request.Title),
		Description: request.Description,
		Status:      "open",
		CreatedAtS:  now,
		UpdatedAtS:  now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		participants := make([]Participant, 0, len(request.AssigneeIDs)+len(request.FollowerIDs))
		for _, userID := range request.AssigneeIDs {
			if id := strings.TrimSpace(userID); id != "" {
				participants = append(participants, Participant{TaskID: taskID, UserID: id, Role: RoleAssignee})
			}
		}
		for _, userID := range request.FollowerIDs {
			if id := strings.TrimSpace(userID); id != "" {
				participants = append(participants, Participant{TaskID: taskID, UserID: id, Role: RoleFollower})
			}
		}
		if len(participants) == 0 {
			return nil
		}
		return tx.Create(&participants).Error
	})
	if txErr != nil {
		s.logError(opCreate, reasonInsertFailed, txErr, zap.String("task_id", taskID))
		return Task{}, svcerr.New(opCreate, reasonInsertFailed, txErr)
	}

	return record, nil
}

// UpdateRequest carries the mutable task fields. Nil fields are left unchanged.
type UpdateRequest struct {
	TaskID      string
	ActorID     string
	Title       *string
	Description *string
	Status      *string
}

// Update applies the requested field changes after verifying the actor is the
// task's creator or an assignee. The authorization check runs before any
// write; a denied actor leaves the task untouched.
func (s *Service) Update(ctx context.Context, request UpdateRequest) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Where("task_id = ?", request.TaskID).
		Take(&task).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		s.logError(opUpdate, reasonLookupFailed, err, zap.String("task_id", request.TaskID))
		return Task{}, svcerr.New(opUpdate, reasonLookupFailed, err)
	}

	authorized, err := s.mayModify(ctx, task, request.ActorID)
	if err != nil {
		return Task{}, err
	}
	if !authorized {
		return Task{}, ErrNotAuthorized
	}

	updates := map[string]interface{}{
		"updated_at_s": s.clock().UTC().Unix(),
	}
	if request.Title != nil {
		updates["title"] = strings.TrimSpace(*request.Title)
	}
	if request.Description != nil {
		updates["description"] = *request.Description
	}
	if request.Status != nil {
		updates["status"] = strings.TrimSpace(*request.Status)
	}
	if err := s.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ?", request.TaskID).
		Updates(updates).
		Error; err != nil {
		s.logError(opUpdate, reasonUpdateFailed, err, zap.String("task_id", request.TaskID))
		return Task{}, svcerr.New(opUpdate, reasonUpdateFailed, err)
	}

	err = s.db.WithContext(ctx).
		Where("task_id = ?", request.TaskID).
		Take(&task).
		Error
	if err != nil {
		s.logError(opUpdate, reasonLookupFailed, err, zap.String("task_id", request.TaskID))
		return Task{}, svcerr.New(opUpdate, reasonLookupFailed, err)
	}
	return task, nil
}

// AudienceUserIDs returns the union of the task's creator, assignees and
// followers, deduplicated.
func (s *Service) AudienceUserIDs(ctx context.Context, taskID string) ([]string, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Take(&task).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		s.logError(opAudience, reasonLookupFailed, err, zap.String("task_id", taskID))
		return nil, svcerr.New(opAudience, reasonLookupFailed, err)
	}

	var participants []Participant
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Find(&participants).
		Error; err != nil {
		s.logError(opAudience, reasonLookupFailed, err, zap.String("task_id", taskID))
		return nil, svcerr.New(opAudience, reasonLookupFailed, err)
	}

	seen := map[string]struct{}{task.CreatorID: {}}
	audience := []string{task.CreatorID}
	for _, participant := range participants {
		if _, ok := seen[participant.UserID]; ok {
			continue
		}
		seen[participant.UserID] = struct{}{}
		audience = append(audience, participant.UserID)
	}
	return audience, nil
}

func (s *Service) mayModify(ctx context.Context, task Task, actorID string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	if task.CreatorID == actorID {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Participant{}).
		Where("task_id = ? AND user_id = ? AND participant_role = ?", task.TaskID, actorID, RoleAssignee).
		Count(&count).
		Error; err != nil {
		s.logError(opUpdate, reasonLookupFailed, err, zap.String("task_id", task.TaskID))
		return false, svcerr.New(opUpdate, reasonLookupFailed, err)
	}
	return count > 0, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tasks service error", attrs...)
}
