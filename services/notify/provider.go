package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"compliance-controlplane/pkg/config"
	"compliance-controlplane/services/alert"
)

// Provider is the outbound notification collaborator. Send returns the
// provider's message id, which later webhook callbacks are keyed by.
type Provider interface {
	Send(ctx context.Context, channel alert.Channel, recipient, body string) (string, error)
}

// ProviderError marks failures that are recorded per recipient and never
// abort the surrounding dispatch batch.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provider: %s", e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// restProvider talks to a Twilio-style messaging REST API: form-encoded
// POSTs, basic auth, JSON responses carrying a message sid.
type restProvider struct {
	client    *http.Client
	baseURL   string
	accountID string
	authToken string
	from      map[alert.Channel]string
}

func NewProvider(cfg *config.Config) Provider {
	p := cfg.Provider
	return &restProvider{
		client:    &http.Client{Timeout: p.Timeout},
		baseURL:   strings.TrimRight(p.BaseURL, "/"),
		accountID: p.AccountID,
		authToken: p.AuthToken,
		from: map[alert.Channel]string{
			alert.ChannelSMS:      p.SMSFrom,
			alert.ChannelWhatsApp: p.WhatsAppFrom,
			alert.ChannelVoice:    p.VoiceFrom,
			alert.ChannelEmail:    p.EmailFrom,
		},
	}
}

func (p *restProvider) Send(ctx context.Context, channel alert.Channel, recipient, body string) (string, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/%s", p.baseURL, p.accountID, resourceFor(channel))

	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", p.from[channel])
	form.Set("Body", body)
	if channel == alert.ChannelWhatsApp {
		form.Set("To", "whatsapp:"+recipient)
		form.Set("From", "whatsapp:"+p.from[channel])
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &ProviderError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 400 {
		return "", &ProviderError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Sid == "" {
		return "", &ProviderError{Reason: "malformed provider response", Err: err}
	}

	return out.Sid, nil
}

func resourceFor(channel alert.Channel) string {
	switch channel {
	case alert.ChannelVoice:
		return "calls"
	case alert.ChannelEmail:
		return "emails"
	default:
		return "messages"
	}
}
