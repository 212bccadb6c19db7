// Package relay turns successfully persisted domain mutations into realtime
// broadcasts and durable notifications. Every flow persists first and fans
// out only after the write succeeded; fan-out failures degrade to logging and
// never surface to the writer.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/pulselabs/pulse/backend/internal/memos"
	"github.com/pulselabs/pulse/backend/internal/messaging"
	"github.com/pulselabs/pulse/backend/internal/notify"
	"github.com/pulselabs/pulse/backend/internal/realtime"
	"github.com/pulselabs/pulse/backend/internal/tasks"
	"github.com/pulselabs/pulse/backend/internal/users"
	"go.uber.org/zap"
)

const deliveredAdvanceTimeout = 5 * time.Second

var (
	// ErrAuthorizationDenied indicates the acting user may not perform the
	// requested mutation. Socket handlers translate it into a scoped *_error
	// event to the origin connection only.
	ErrAuthorizationDenied = errors.New("relay: authorization denied")

	errMissingMessages    = errors.New("relay: message store required")
	errMissingMemos       = errors.New("relay: memo store required")
	errMissingTasks       = errors.New("relay: task store required")
	errMissingBroadcaster = errors.New("relay: broadcaster required")
)

// MessageStore persists direct messages.
type MessageStore interface {
	Send(ctx context.Context, request messaging.SendRequest) (messaging.Message, error)
	MarkDelivered(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, messageID, readerID string) (messaging.Message, error)
}

// MemoStore persists memos and acknowledgements.
type MemoStore interface {
	Create(ctx context.Context, request memos.CreateRequest) (memos.Memo, []string, error)
	Acknowledge(ctx context.Context, memoID, userID, comment string) (memos.Memo, error)
}

// TaskStore persists task updates and resolves their audience.
type TaskStore interface {
	Update(ctx context.Context, request tasks.UpdateRequest) (tasks.Task, error)
	AudienceUserIDs(ctx context.Context, taskID string) ([]string, error)
}

// Broadcaster is the live fan-out surface of the room router.
type Broadcaster interface {
	EmitToRoom(roomName, eventName string, payload interface{}) int
	EmitToUser(userID, eventName string, payload interface{}) int
}

// PresenceReader reports whether a user has a live connection.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) bool
}

// Notifier delivers durable notifications; it collects outcomes and never fails.
type Notifier interface {
	Dispatch(ctx context.Context, notice notify.Notice, recipientIDs []string) []notify.DeliveryResult
}

// Directory resolves user ids to display data.
type Directory interface {
	GetByID(ctx context.Context, userID string) (users.User, error)
}

// Config bundles the relay dependencies.
type Config struct {
	Messages    MessageStore
	Memos       MemoStore
	Tasks       TaskStore
	Broadcaster Broadcaster
	Presence    PresenceReader
	Notifier    Notifier
	Directory   Directory
	Logger      *zap.Logger
}

// Relay implements the persist-populate-broadcast flows shared by the REST
// and socket write paths.
type Relay struct {
	messages    MessageStore
	memos       MemoStore
	tasks       TaskStore
	broadcaster Broadcaster
	presence    PresenceReader
	notifier    Notifier
	directory   Directory
	logger      *zap.Logger
}

// New constructs a relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	if cfg.Memos == nil {
		return nil, errMissingMemos
	}
	if cfg.Tasks == nil {
		return nil, errMissingTasks
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		messages:    cfg.Messages,
		memos:       cfg.Memos,
		tasks:       cfg.Tasks,
		broadcaster: cfg.Broadcaster,
		presence:    cfg.Presence,
		notifier:    cfg.Notifier,
		directory:   cfg.Directory,
		logger:      logger,
	}, nil
}

// SendMessageRequest describes a message write arriving over REST or socket.
type SendMessageRequest struct {
	ReceiverID     string `json:"receiver_id"`
	ConversationID string `json:"conversation_id"`
	Body           string `json:"text"`
}

// MessageNotificationPayload is the personal-room copy of a new message.
type MessageNotificationPayload struct {
	Message        messaging.View `json:"message"`
	ConversationID string         `json:"conversation_id"`
}

// SendMessage persists the message, broadcasts receive_message to the
// conversation room and new_message_notification to the receiver's personal
// room, then advances the status to delivered best-effort.
func (r *Relay) SendMessage(ctx context.Context, senderID string, request SendMessageRequest) (messaging.View, error) {
	record, err := r.messages.Send(ctx, messaging.SendRequest{
		SenderID:       senderID,
		ReceiverID:     request.ReceiverID,
		ConversationID: request.ConversationID,
		Body:           request.Body,
	})
	if err != nil {
		return messaging.View{}, err
	}

	view := r.populateMessage(ctx, record)

	r.broadcaster.EmitToRoom(realtime.ConversationRoom(record.ConversationID), realtime.EventReceiveMessage, view)
	r.broadcaster.EmitToUser(record.ReceiverID, realtime.EventNewMessageNotification, MessageNotificationPayload{
		Message:        view,
		ConversationID: record.ConversationID,
	})

	go r.advanceDelivered(record.MessageID)

	return view, nil
}

// MessageReadPayload is broadcast when a receiver marks a message read.
type MessageReadPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
}

// MarkMessageRead records the read receipt and broadcasts message_read to the
// conversation room.
func (r *Relay) MarkMessageRead(ctx context.Context, readerID, messageID string) (MessageReadPayload, error) {
	record, err := r.messages.MarkRead(ctx, messageID, readerID)
	if err != nil {
		return MessageReadPayload{}, err
	}

	payload := MessageReadPayload{
		MessageID:      record.MessageID,
		ConversationID: record.ConversationID,
		ReaderID:       readerID,
	}
	r.broadcaster.EmitToRoom(realtime.ConversationRoom(record.ConversationID), realtime.EventMessageRead, payload)
	return payload, nil
}

// TypingPayload is the ephemeral typing indicator.
type TypingPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Typing broadcasts the indicator to the conversation room. Nothing is
// persisted and no acknowledgement is expected.
func (r *Relay) Typing(userID, conversationID string, isTyping bool) {
	if conversationID == "" {
		return
	}
	r.broadcaster.EmitToRoom(realtime.ConversationRoom(conversationID), realtime.EventUserTyping, TypingPayload{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

// CreateMemoRequest describes a memo write.
type CreateMemoRequest struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Severity     string   `json:"severity"`
	RecipientIDs []string `json:"recipient_ids"`
}

// MemoPayload is the memo shape broadcast to recipients and the creator.
type MemoPayload struct {
	MemoID       string   `json:"memo_id"`
	CreatorID    string   `json:"creator_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Severity     string   `json:"severity"`
	CreatedAtS   int64    `json:"created_at_s"`
	RecipientIDs []string `json:"recipient_ids"`
}

// CreateMemo persists the memo, pushes new_memo to each live recipient's
// personal room, and always hands the memo to the durable notifier, whether
// or not a recipient is connected.
func (r *Relay) CreateMemo(ctx context.Context, creatorID string, creatorRole users.Role, request CreateMemoRequest) (MemoPayload, error) {
	if !creatorRole.CanCreateMemo() {
		return MemoPayload{}, ErrAuthorizationDenied
	}

	record, recipients, err := r.memos.Create(ctx, memos.CreateRequest{
		CreatorID:    creatorID,
		Title:        request.Title,
		Body:         request.Body,
		Severity:     memos.Severity(request.Severity),
		RecipientIDs: request.RecipientIDs,
	})
	if err != nil {
		return MemoPayload{}, err
	}

	payload := MemoPayload{
		MemoID:       record.MemoID,
		CreatorID:    record.CreatorID,
		Title:        record.Title,
		Body:         record.Body,
		Severity:     string(record.Severity),
		CreatedAtS:   record.CreatedAtS,
		RecipientIDs: recipients,
	}

	for _, recipientID := range recipients {
		if r.presence != nil && !r.presence.IsOnline(ctx, recipientID) {
			continue
		}
		r.broadcaster.EmitToUser(recipientID, realtime.EventNewMemo, payload)
	}

	if r.notifier != nil {
		results := r.notifier.Dispatch(ctx, notify.Notice{
			Kind:     "memo_created",
			Subject:  record.Title,
			Body:     record.Body,
			Severity: string(record.Severity),
		}, recipients)
		r.logFailedDeliveries("memo_created", results)
	}

	return payload, nil
}

// MemoAcknowledgedPayload is sent to the memo creator's personal room.
type MemoAcknowledgedPayload struct {
	MemoID  string `json:"memo_id"`
	UserID  string `json:"user_id"`
	Comment string `json:"comment"`
}

// AcknowledgeMemo records the acknowledgement and notifies the memo creator.
func (r *Relay) AcknowledgeMemo(ctx context.Context, userID, memoID, comment string) (MemoAcknowledgedPayload, error) {
	record, err := r.memos.Acknowledge(ctx, memoID, userID, comment)
	if err != nil {
		return MemoAcknowledgedPayload{}, err
	}

	payload := MemoAcknowledgedPayload{
		MemoID:  record.MemoID,
		UserID:  userID,
		Comment: comment,
	}
	r.broadcaster.EmitToUser(record.CreatorID, realtime.EventMemoAcknowledged, payload)
	return payload, nil
}

// UpdateTaskRequest carries a partial task update. Nil fields stay unchanged.
type UpdateTaskRequest struct {
	TaskID      string  `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

// TaskPayload is the task shape broadcast after an update.
type TaskPayload struct {
	TaskID      string `json:"task_id"`
	CreatorID   string `json:"creator_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	UpdatedAtS  int64  `json:"updated_at_s"`
	UpdatedBy   string `json:"updated_by"`
}

// UpdateTask verifies the actor may modify the task, persists the change, and
// broadcasts task_updated to the personal rooms of the creator, assignees and
// followers.
func (r *Relay) UpdateTask(ctx context.Context, actorID string, request UpdateTaskRequest) (TaskPayload, error) {
	record, err := r.tasks.Update(ctx, tasks.UpdateRequest{
		TaskID:      request.TaskID,
		ActorID:     actorID,
		Title:       request.Title,
		Description: request.Description,
		Status:      request.Status,
	})
	if errors.Is(err, tasks.ErrNotAuthorized) {
		return TaskPayload{}, ErrAuthorizationDenied
	}
	if err != nil {
		return TaskPayload{}, err
	}

	payload := TaskPayload{
		TaskID:      record.TaskID,
		CreatorID:   record.CreatorID,
		Title:       record.Title,
		Description: record.Description,
		Status:      record.Status,
		UpdatedAtS:  record.UpdatedAtS,
		UpdatedBy:   actorID,
	}

	audience, err := r.tasks.AudienceUserIDs(ctx, record.TaskID)
	if err != nil {
		r.logger.Error("task audience lookup failed",
			zap.String("task_id", record.TaskID),
			zap.Error(err))
		return payload, nil
	}
	for _, userID := range audience {
		r.broadcaster.EmitToUser(userID, realtime.EventTaskUpdated, payload)
	}
	return payload, nil
}

// The write already succeeded; a failed status advance is logged only.
func (r *Relay) advanceDelivered(messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveredAdvanceTimeout)
	defer cancel()
	if err := r.messages.MarkDelivered(ctx, messageID); err != nil {
		r.logger.Warn("message delivered advance failed",
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

func (r *Relay) populateMessage(ctx context.Context, record messaging.Message) messaging.View {
	view := messaging.View{
		MessageID:      record.MessageID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		SenderName:     record.SenderID,
		ReceiverID:     record.ReceiverID,
		ReceiverName:   record.ReceiverID,
		Body:           record.Body,
		Status:         record.Status,
		CreatedAtS:     record.CreatedAtS,
	}
	if r.directory == nil {
		return view
	}
	if sender, err := r.directory.GetByID(ctx, record.SenderID); err == nil && sender.DisplayName != "" {
		view.SenderName = sender.DisplayName
	}
	if receiver, err := r.directory.GetByID(ctx, record.ReceiverID); err == nil && receiver.DisplayName != "" {
		view.ReceiverName = receiver.DisplayName
	}
	return view
}

func (r *Relay) logFailedDeliveries(kind string, results []notify.DeliveryResult) {
	for _, result := range results {
		if result.Delivered {
			continue
		}
		r.logger.Warn("durable notification failed",
			zap.String("kind", kind),
			zap.String("recipient_id", result.RecipientID),
			zap.String("channel", result.Channel),
			zap.String("error", result.Error))
	}
}
