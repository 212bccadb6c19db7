package memos

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
	opServiceNew  = "memos.service.new"
	opCreate      = "memos.create"
	opAcknowledge = "memos.acknowledge"

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
	// ErrNotRecipient indicates the acknowledging user is not on the memo's
	// recipient list.
	ErrNotRecipient = errors.New("memos: user is not a recipient")
	// ErrMemoNotFound indicates the memo does not exist.
	ErrMemoNotFound = errors.New("memos: memo not found")
)

// ServiceConfig bundles memo service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Logger     *zap.Logger
}

// Service persists memos and their acknowledgements.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ident.Provider
	logger *zap.Logger
}

// NewService constructs the memo service.
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

// CreateRequest describes a memo write.
type CreateRequest struct {
	CreatorID    string
	Title        string
	Body         string
	Severity     Severity
	RecipientIDs []string
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.CreatorID) == "" {
		return errors.New("creator id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if !r.Severity.Valid() {
		return errors.New("unknown severity")
	}
	return nil
}

// Create persists the memo and its recipient rows in one transaction and
// returns the stored memo with its deduplicated recipient list.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Memo, []string, error) {
	if request.Severity == "" {
		request.Severity = SeverityNormal
	}
	if err := request.validate(); err != nil {
		return Memo{}, nil, svcerr.New(opCreate, reasonInvalidRequest, err)
	}
	recipients := dedupeIDs(request.RecipientIDs)
	if len(recipients) == 0 {
		return Memo{}, nil, svcerr.New(opCreate, reasonInvalidRequest, errors.New("at least one recipient is required"))
	}

	memoID, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Memo{}, nil, svcerr.New(opCreate, "id_generation_failed", err)
	}

	record := Memo{
		MemoID:     memoID,
		CreatorID:  strings.TrimSpace(request.CreatorID),
		Title:      strings.TrimSpace(request.Title),
		Body:       request.Body,
		Severity:   request.Severity,
		CreatedAtS: s.clock().UTC().Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		rows := make([]Recipient, 0, len(recipients))
		for _, userID := range recipients {
			rows = append(rows, Recipient{MemoID: memoID, UserID: userID})
		}
		return tx.Create(&rows).Error
	})
	if txErr != nil {
		s.logError(opCreate, reasonInsertFailed, txErr, zap.String("memo_id", memoID))
		return Memo{}, nil, svcerr.New(opCreate, reasonInsertFailed, txErr)
	}

	return record, recipients, nil
}

// Acknowledge records the recipient's acknowledgement and returns the memo so
// the caller can notify its creator. Acknowledging twice keeps the first
// timestamp.
func (s *Service) Acknowledge(ctx context.Context, memoID, userID, comment string) (Memo, error) {
	var memo Memo
	err := s.db.WithContext(ctx).
		Where("memo_id = ?", memoID).
		Take(&memo).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Memo{}, ErrMemoNotFound
	}
	if err != nil {
		s.logError(opAcknowledge, reasonLookupFailed, err, zap.String("memo_id", memoID))
		return Memo{}, svcerr.New(opAcknowledge, reasonLookupFailed, err)
	}

	var recipient Recipient
	err = s.db.WithContext(ctx).
		Where("memo_id = ? AND user_id = ?", memoID, userID).
		Take(&recipient).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Memo{}, ErrNotRecipient
	}
	if err != nil {
		s.logError(opAcknowledge, reasonLookupFailed, err, zap.String("memo_id", memoID))
		return Memo{}, svcerr.New(opAcknowledge, reasonLookupFailed, err)
	}

	if recipient.AcknowledgedAtS == nil {
		acknowledgedAt := s.clock().UTC().Unix()
		if err := s.db.WithContext(ctx).
			Model(&Recipient{}).
			Where("memo_id = ? AND user_id = ?", memoID, userID).
			Updates(map[string]interface{}{
				"acknowledged_at_s": acknowledgedAt,
				"comment":           comment,
			}).
			Error; err != nil {
			s.logError(opAcknowledge, reasonUpdateFailed, err, zap.String("memo_id", memoID))
			return Memo{}, svcerr.New(opAcknowledge, reasonUpdateFailed, err)
		}
	}

	return memo, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("memos service error", attrs...)
}
