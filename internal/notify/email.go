package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/pulselabs/pulse/backend/internal/users"
)

// ChannelEmail names the SMTP channel.
const ChannelEmail = "email"

var errMissingSMTPConfig = errors.New("notify: smtp address and from required")

// EmailChannelConfig configures SMTP delivery.
type EmailChannelConfig struct {
	Address string
	From    string
	Auth    smtp.Auth
	Clock   func() time.Time
}

// EmailChannel composes MIME messages and hands them to an SMTP relay.
type EmailChannel struct {
	address string
	from    string
	auth    smtp.Auth
	clock   func() time.Time
}

// NewEmailChannel constructs the channel with validated configuration.
func NewEmailChannel(cfg EmailChannelConfig) (*EmailChannel, error) {
	if cfg.Address == "" || cfg.From == "" {
		return nil, errMissingSMTPConfig
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &EmailChannel{
		address: cfg.Address,
		from:    cfg.From,
		auth:    cfg.Auth,
		clock:   clock,
	}, nil
}

// Name returns the channel name used by preference gating.
func (c *EmailChannel) Name() string {
	return ChannelEmail
}

// Send composes and submits the notice as a plain-text email.
func (c *EmailChannel) Send(_ context.Context, recipient users.User, notice Notice) error {
	body, err := c.compose(recipient, notice)
	if err != nil {
		return fmt.Errorf("compose email: %w", err)
	}
	if err := smtp.SendMail(c.address, c.auth, c.from, []string{recipient.Email}, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (c *EmailChannel) compose(recipient users.User, notice Notice) ([]byte, error) {
	var buffer bytes.Buffer

	var header mail.Header
	header.SetDate(c.clock().UTC())
	header.SetAddressList("From", []*mail.Address{{Name: "Pulse", Address: c.from}})
	header.SetAddressList("To", []*mail.Address{{Name: recipient.DisplayName, Address: recipient.Email}})
	header.SetSubject(notice.Subject)

	writer, err := mail.CreateWriter(&buffer, header)
	if err != nil {
		return nil, err
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return nil, err
	}
	var partHeader mail.InlineHeader
	partHeader.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := inline.CreatePart(partHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, notice.Body); err != nil {
		return nil, err
	}
	if err := part.Close(); err != nil {
		return nil, err
	}
	if err := inline.Close(); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}
