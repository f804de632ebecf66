// Package fcm implements notify.PushProvider against the Firebase Cloud Messaging HTTP
// v1 API.
//
// No example repo in the retrieved pack declares an FCM SDK dependency, so this is a
// deliberately small net/http + encoding/json client rather than a wrapped third-party
// library; see DESIGN.md for the stdlib justification.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openhab/cloud-tunnelgw/notify"
)

const defaultEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// TokenSource returns a short-lived OAuth2 bearer token authorized for the FCM send
// scope. Callers typically supply golang.org/x/oauth2/google's credential flow; this
// package has no opinion on how the token was obtained.
type TokenSource func(ctx context.Context) (string, error)

// Provider is a notify.PushProvider backed by the FCM HTTP v1 API.
type Provider struct {
	projectID string
	tokens    TokenSource
	endpoint  string
	client    *http.Client
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default http.Client (e.g. for test servers).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEndpoint overrides the FCM send endpoint template (must contain one %s for the
// project id). Used by tests to point at an httptest.Server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// New returns a Provider for projectID, authorizing every request via tokens.
func New(projectID string, tokens TokenSource, opts ...Option) *Provider {
	p := &Provider{
		projectID: strings.TrimSpace(projectID),
		tokens:    tokens,
		endpoint:  defaultEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsConfigured reports whether the provider has a project id and a token source.
func (p *Provider) IsConfigured() bool {
	return p.projectID != "" && p.tokens != nil
}

type fcmEnvelope struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SendBatch sends n to every token sequentially, translating each per-token HTTP
// failure into a PushResult rather than aborting the batch.
func (p *Provider) SendBatch(ctx context.Context, tokens []string, n notify.PushNotification) ([]notify.PushResult, error) {
	bearer, err := p.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: token source: %w", err)
	}
	results := make([]notify.PushResult, 0, len(tokens))
	for _, tok := range tokens {
		data := map[string]string{}
		if n.Tag != "" {
			data["tag"] = n.Tag
		}
		if len(n.Payload) > 0 {
			data["payload"] = string(n.Payload)
		}
		msg := fcmEnvelope{Message: fcmMessage{
			Token:        tok,
			Notification: &fcmNotification{Title: "openHAB", Body: n.Message},
			Data:         data,
		}}
		err := p.post(ctx, bearer, msg)
		results = append(results, notify.PushResult{Token: tok, Err: err})
	}
	return results, nil
}

// SendHide sends a data-only "hide" message for notificationID to every token.
func (p *Provider) SendHide(ctx context.Context, tokens []string, notificationID string) error {
	bearer, err := p.tokens(ctx)
	if err != nil {
		return fmt.Errorf("fcm: token source: %w", err)
	}
	var firstErr error
	for _, tok := range tokens {
		msg := fcmEnvelope{Message: fcmMessage{
			Token: tok,
			Data:  map[string]string{"hide": "true", "notification_id": notificationID},
		}}
		if err := p.post(ctx, bearer, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Provider) post(ctx context.Context, bearer string, msg fcmEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	url := fmt.Sprintf(p.endpoint, p.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm: send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ notify.PushProvider = (*Provider)(nil)
