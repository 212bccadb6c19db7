package notify

import (
	"context"
	"errors"
	"time"

	"github.com/pulselabs/pulse/backend/internal/users"
	"go.uber.org/zap"
)

// Severity levels that additionally trigger the SMS channel.
const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var errMissingDirectory = errors.New("notify: recipient directory required")

// Notice is a durable notification derived from a domain event.
type Notice struct {
	Kind     string
	Subject  string
	Body     string
	Severity string
}

// Channel delivers a notice to one recipient over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient users.User, notice Notice) error
}

// DeliveryResult records the outcome of one recipient/channel attempt.
type DeliveryResult struct {
	RecipientID string
	Channel     string
	Delivered   bool
	Error       string
}

// RecipientDirectory resolves recipient ids to accounts with their
// notification preferences.
type RecipientDirectory interface {
	GetByIDs(ctx context.Context, userIDs []string) ([]users.User, error)
}

// DispatcherConfig bundles dispatcher dependencies.
type DispatcherConfig struct {
	Directory RecipientDirectory
	Channels  []Channel
	Logger    *zap.Logger
	Timeout   time.Duration
}

// Dispatcher fans a notice out to durable channels, honoring each recipient's
// preferences. Every recipient/channel attempt is independent; outcomes are
// collected and returned, never thrown, so callers proceed regardless.
type Dispatcher struct {
	directory RecipientDirectory
	channels  []Channel
	logger    *zap.Logger
	timeout   time.Duration
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		directory: cfg.Directory,
		channels:  cfg.Channels,
		logger:    logger,
		timeout:   timeout,
	}, nil
}

// Dispatch delivers the notice to every recipient over every channel their
// preferences allow. SMS is additionally gated to high and critical notices.
func (d *Dispatcher) Dispatch(ctx context.Context, notice Notice, recipientIDs []string) []DeliveryResult {
	accounts, err := d.directory.GetByIDs(ctx, recipientIDs)
	if err != nil {
		d.logger.Error("notification recipient lookup failed",
			zap.String("kind", notice.Kind),
			zap.Error(err))
		results := make([]DeliveryResult, 0, len(recipientIDs))
		for _, recipientID := range recipientIDs {
			results = append(results, DeliveryResult{
				RecipientID: recipientID,
				Delivered:   false,
				Error:       err.Error(),
			})
		}
		return results
	}

	results := make([]DeliveryResult, 0, len(accounts)*len(d.channels))
	for _, account := range accounts {
		for _, channel := range d.channels {
			if !d.eligible(channel.Name(), account, notice) {
				continue
			}
			results = append(results, d.attempt(ctx, channel, account, notice))
		}
	}
	return results
}

func (d *Dispatcher) attempt(ctx context.Context, channel Channel, account users.User, notice Notice) DeliveryResult {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := DeliveryResult{
		RecipientID: account.UserID,
		Channel:     channel.Name(),
	}
	if err := channel.Send(sendCtx, account, notice); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("kind", notice.Kind),
			zap.String("channel", channel.Name()),
			zap.String("recipient_id", account.UserID),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Delivered = true
	return result
}

func (d *Dispatcher) eligible(channelName string, account users.User, notice Notice) bool {
	switch channelName {
	case ChannelEmail:
		return account.EmailNotifications && account.Email != ""
	case ChannelSMS:
		if !account.SMSNotifications || account.Phone == "" {
			return false
		}
		return notice.Severity == SeverityHigh || notice.Severity == SeverityCritical
	default:
		return true
	}
}
