// Package notification dispatches fire-and-forget events (such as a
// completed patient intake) to a delivery sender without blocking callers.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const TemplateIntakeCommitted = "intake-committed"

// Notification is a single outbound message.
type Notification struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.RegisterTemplate(Template{
		ID:      TemplateIntakeCommitted,
		Subject: "Bulk intake finished: {{success_count}} of {{total}} patients admitted",
		Body:    "{{success_count}} patient(s) admitted to team {{team_id}} at facility {{facility_id}}. {{error_count}} record(s) failed.",
	})
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Unknown placeholders are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogSender writes notifications to the log. Used when no delivery channel
// is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n *Notification) error {
	s.Logger.Info().
		Str("notification_id", n.ID).
		Str("tenant_id", n.TenantID).
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("notification")
	return nil
}

// WebhookSender POSTs the notification as JSON.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// IntakeCommitted describes a finished bulk intake.
type IntakeCommitted struct {
	TenantID     string
	ActorID      string
	SessionID    string
	FacilityID   string
	TeamID       string
	SuccessCount int
	ErrorCount   int
	Total        int
}

type DispatcherOption func(*Dispatcher)

func WithLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRetry sets the delivery attempts per notification and the delay
// between them.
func WithRetry(attempts int, delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		d.retryDelay = delay
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Dispatcher delivers notifications on a background worker. Enqueueing never
// blocks: when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	sender      Sender
	templates   *TemplateEngine
	logger      zerolog.Logger
	maxAttempts int
	retryDelay  time.Duration
	queueSize   int
	sendTimeout time.Duration

	queue chan *Notification
	done  chan struct{}

	mu     sync.Mutex
	closed bool
	stats  map[string]int
}

// NewDispatcher starts the delivery worker. Call Close to drain it.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		templates:   NewTemplateEngine(),
		logger:      zerolog.Nop(),
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
		queueSize:   64,
		sendTimeout: 15 * time.Second,
		stats:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan *Notification, d.queueSize)
	d.done = make(chan struct{})
	go d.run()
	return d
}

// Enqueue schedules delivery and reports whether the notification was accepted.
func (d *Dispatcher) Enqueue(n *Notification) bool {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.stats["dropped"]++
		return false
	}
	select {
	case d.queue <- n:
		d.stats["pending"]++
		return true
	default:
		d.stats["dropped"]++
		d.logger.Warn().Str("notification_id", n.ID).Msg("notification queue full, dropping")
		return false
	}
}

// IntakeCommitted renders and enqueues the intake summary for the acting user.
func (d *Dispatcher) IntakeCommitted(evt IntakeCommitted) bool {
	data := map[string]string{
		"session_id":    evt.SessionID,
		"facility_id":   evt.FacilityID,
		"team_id":       evt.TeamID,
		"success_count": strconv.Itoa(evt.SuccessCount),
		"error_count":   strconv.Itoa(evt.ErrorCount),
		"total":         strconv.Itoa(evt.Total),
	}
	subject, body, err := d.templates.Render(TemplateIntakeCommitted, data)
	if err != nil {
		d.logger.Warn().Err(err).Msg("render intake notification")
		return false
	}
	return d.Enqueue(&Notification{
		TemplateID: TemplateIntakeCommitted,
		TenantID:   evt.TenantID,
		Recipient:  evt.ActorID,
		Subject:    subject,
		Body:       body,
		Data:       data,
	})
}

// Stats returns counts by delivery status.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out
}

// Close stops accepting notifications and waits for queued ones to be
// attempted, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n *Notification) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		n.Attempts = attempt
		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		err = d.sender.Send(ctx, n)
		cancel()
		if err == nil {
			break
		}
		d.logger.Warn().Err(err).Str("notification_id", n.ID).Int("attempt", attempt).Msg("notification delivery failed")
		if attempt < d.maxAttempts && d.retryDelay > 0 {
			time.Sleep(d.retryDelay)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats["pending"]--
	if err != nil {
		n.Status = "failed"
		n.Error = err.Error()
		d.stats["failed"]++
		return
	}
	now := time.Now().UTC()
	n.Status = "sent"
	n.SentAt = &now
	d.stats["sent"]++
}
