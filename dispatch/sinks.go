package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
)

// Payload is a rendered action ready for delivery.
type Payload struct {
	ExceptionID   string          `json:"exceptionId"`
	RuleID        string          `json:"ruleId"`
	Entity        alert.EntityRef `json:"entity"`
	Category      string          `json:"category"`
	PriorityScore float64         `json:"priorityScore"`
	PriorityLevel scoring.Level   `json:"priorityLevel"`
	Message       string          `json:"message"`
	SentAt        time.Time       `json:"sentAt"`
}

// Sink delivers one rendered payload. Implementations signal permanent
// failures (bad configuration, 4xx responses) by wrapping the error with
// Permanent; everything else is treated as transient and retried.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the dispatcher stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error was marked permanent.
func IsPermanent(err error) bool {
	for err != nil {
		if _, ok := err.(*permanentError); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NotificationFeed is the in-process notification sink: it retains the
// most recent payloads for the dashboard's notification list.
type NotificationFeed struct {
	mu      sync.Mutex
	entries []Payload
	limit   int
}

// NewNotificationFeed creates a feed retaining up to limit entries.
func NewNotificationFeed(limit int) *NotificationFeed {
	if limit <= 0 {
		limit = 100
	}
	return &NotificationFeed{limit: limit}
}

// Deliver appends the payload to the feed.
func (f *NotificationFeed) Deliver(_ context.Context, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, p)
	if len(f.entries) > f.limit {
		f.entries = f.entries[len(f.entries)-f.limit:]
	}
	return nil
}

// Recent returns the retained payloads, newest last.
func (f *NotificationFeed) Recent() []Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Payload, len(f.entries))
	copy(out, f.entries)
	return out
}

// EmailSender is the transport the email sink hands rendered messages to.
// Real SMTP lives outside the engine.
type EmailSender interface {
	Send(ctx context.Context, subject, body string) error
}

// EmailSink renders exceptions into email subject/body pairs.
type EmailSink struct {
	Sender EmailSender
}

// Deliver sends the payload through the configured sender.
func (s *EmailSink) Deliver(ctx context.Context, p Payload) error {
	if s.Sender == nil {
		return Permanent(fmt.Errorf("email sink has no sender configured"))
	}
	subject := fmt.Sprintf("[%s] %s exception for %s", p.PriorityLevel, p.Category, p.Entity)
	return s.Sender.Send(ctx, subject, p.Message)
}

// WebhookSink POSTs the payload as JSON to a fixed URL.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a webhook sink with a default client.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Deliver POSTs the payload. Non-2xx responses other than 429 are
// permanent; connection errors and 5xx/429 are transient.
func (s *WebhookSink) Deliver(ctx context.Context, p Payload) error {
	if s.URL == "" {
		return Permanent(fmt.Errorf("webhook sink has no URL configured"))
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal webhook payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}
