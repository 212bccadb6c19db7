package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/pulselabs/pulse/backend/internal/users"
)

// ChannelSMS names the SMS gateway channel.
const ChannelSMS = "sms"

var errMissingGatewayURL = errors.New("notify: sms gateway url required")

// SMSChannelConfig configures the HTTP SMS gateway client.
type SMSChannelConfig struct {
	GatewayURL string
	APIKey     string
	HTTPClient *http.Client
}

// SMSChannel posts short notices to an HTTP SMS gateway.
type SMSChannel struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
}

// NewSMSChannel constructs the channel with validated configuration.
func NewSMSChannel(cfg SMSChannelConfig) (*SMSChannel, error) {
	if cfg.GatewayURL == "" {
		return nil, errMissingGatewayURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SMSChannel{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// Name returns the channel name used by preference gating.
func (c *SMSChannel) Name() string {
	return ChannelSMS
}

type smsRequestPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send posts the notice body to the gateway for the recipient's phone number.
func (c *SMSChannel) Send(ctx context.Context, recipient users.User, notice Notice) error {
	payload, err := json.Marshal(smsRequestPayload{
		To:   recipient.Phone,
		Body: fmt.Sprintf("%s: %s", notice.Subject, notice.Body),
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sms gateway: unexpected status %d", response.StatusCode)
	}
	return nil
}
