package messaging

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
	opServiceNew    = "messaging.service.new"
	opSend          = "messaging.send"
	opMarkDelivered = "messaging.mark_delivered"
	opMarkRead      = "messaging.mark_read"

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
	// ErrMessageNotFound indicates the message does not exist or the caller
	// is not its receiver.
	ErrMessageNotFound = errors.New("messaging: message not found")
)

// ServiceConfig bundles messaging service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Logger     *zap.Logger
}

// Service persists direct messages. It performs the authoritative write only;
// broadcasting derived events is the relay's concern.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ident.Provider
	logger *zap.Logger
}

// NewService constructs the messaging service.
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

// SendRequest describes a message write.
type SendRequest struct {
	SenderID       string
	ReceiverID     string
	ConversationID string
	Body           string
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.SenderID) == "" {
		return errors.New("sender id is required")
	}
	if strings.TrimSpace(r.ReceiverID) == "" {
		return errors.New("receiver id is required")
	}
	if strings.TrimSpace(r.ConversationID) == "" {
		return errors.New("conversation id is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("body is required")
	}
	return nil
}

// Send persists the message with status sent and returns the stored record.
func (s *Service) Send(ctx context.Context, request SendRequest) (Message, error) {
	if err := request.validate(); err != nil {
		return Message{}, svcerr.New(opSend, reasonInvalidRequest, err)
	}

	messageID, err := s.ids.NewID()
	if err != nil {
		s.logError(opSend, "id_generation_failed", err)
		return Message{}, svcerr.New(opSend, "id_generation_failed", err)
	}

	record := Message{
		MessageID:      messageID,
		ConversationID: strings.TrimSpace(request.ConversationID),
		SenderID:       strings.TrimSpace(request.SenderID),
		ReceiverID:     strings.TrimSpace(request.ReceiverID),
		Body:           request.Body,
		Status:         StatusSent,
		CreatedAtS:     s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opSend, reasonInsertFailed, err,
			zap.String("conversation_id", record.ConversationID))
		return Message{}, svcerr.New(opSend, reasonInsertFailed, err)
	}
	return record, nil
}

// MarkDelivered advances the message status from sent to delivered.
func (s *Service) MarkDelivered(ctx context.Context, messageID string) error {
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("message_id = ? AND status = ?", messageID, StatusSent).
		Update("status", StatusDelivered).
		Error
	if err != nil {
		s.logError(opMarkDelivered, reasonUpdateFailed, err, zap.String("message_id", messageID))
		return svcerr.New(opMarkDelivered, reasonUpdateFailed, err)
	}
	return nil
}

// MarkRead records the receiver's read acknowledgement and returns the
// updated message. Only the receiver may mark a message read.
func (s *Service) MarkRead(ctx context.Context, messageID, readerID string) (Message, error) {
	var record Message
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND receiver_id = ?", messageID, readerID).
		Take(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		s.logError(opMarkRead, reasonLookupFailed, err, zap.String("message_id", messageID))
		return Message{}, svcerr.New(opMarkRead, reasonLookupFailed, err)
	}

	if record.Status != StatusRead {
		if err := s.db.WithContext(ctx).
			Model(&Message{}).
			Where("message_id = ?", messageID).
			Update("status", StatusRead).
			Error; err != nil {
			s.logError(opMarkRead, reasonUpdateFailed, err, zap.String("message_id", messageID))
			return Message{}, svcerr.New(opMarkRead, reasonUpdateFailed, err)
		}
		record.Status = StatusRead
	}
	return record, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("messaging service error", attrs...)
}
