package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

// Delivery event names.
const (
	EventTaskDispatched = "task.dispatched"
	EventPing           = "ping"
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Swarm-Event"
	HeaderDelivery  = "X-Swarm-Delivery"
	HeaderSignature = "X-Swarm-Signature"
)

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 4096

// Target is a listing endpoint and the secret deliveries are signed with.
type Target struct {
	ListingID string
	URL       string
	Secret    string
}

// TargetFor builds the delivery target of a listing.
// Returns ErrWebhookNotConfigured if the listing has no endpoint.
func TargetFor(listing *domain.Listing) (Target, error) {
	if !listing.HasWebhook() {
		return Target{}, domain.ErrWebhookNotConfigured
	}
	target := Target{ListingID: listing.ID, URL: *listing.Webhook.URL}
	if listing.Webhook.Secret != nil {
		target.Secret = *listing.Webhook.Secret
	}
	return target, nil
}

// Result describes a finished delivery.
type Result struct {
	DeliveryID string
	Attempts   int
	StatusCode int
	Duration   time.Duration
}

// Config holds Notifier settings.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	// BaseURL is the public address agents call back to.
	BaseURL string
}

// Notifier posts signed JSON deliveries to listing endpoints.
type Notifier struct {
	client     *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	baseURL    string
	now        func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg Config) *Notifier {
	maxRetries := uint64(0)
	if cfg.MaxRetries > 0 {
		maxRetries = uint64(cfg.MaxRetries)
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}
	return &Notifier{
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		now:        time.Now,
	}
}

type envelope struct {
	Event      string       `json:"event"`
	DeliveryID string       `json:"delivery_id"`
	Task       *TaskPayload `json:"task,omitempty"`
	SentAt     time.Time    `json:"sent_at"`
}

// TaskPayload is the task as seen by the executing agent.
type TaskPayload struct {
	ID          string          `json:"id"`
	ListingID   *string         `json:"listing_id"`
	BuyerID     string          `json:"buyer_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Inputs      json.RawMessage `json:"inputs"`
	Constraints json.RawMessage `json:"constraints"`
	BudgetCents int64           `json:"budget_cents"`
	Currency    string          `json:"currency"`
	Deadline    *time.Time      `json:"deadline"`
	Status      string          `json:"status"`
	CallbackURL string          `json:"callback_url"`
}

func rawOrEmpty(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(payload)
}

func (n *Notifier) taskPayload(task *domain.Task) *TaskPayload {
	return &TaskPayload{
		ID:          task.ID,
		ListingID:   task.ListingID,
		BuyerID:     task.BuyerID,
		Title:       task.Title,
		Description: task.Description,
		Category:    task.Category,
		Inputs:      rawOrEmpty(task.Inputs),
		Constraints: rawOrEmpty(task.Constraints),
		BudgetCents: task.BudgetCents,
		Currency:    task.Currency,
		Deadline:    task.Deadline,
		Status:      string(task.Status),
		CallbackURL: n.baseURL + "/api/v1/webhooks/tasks/" + task.ID,
	}
}

// DeliverTask notifies the listing endpoint that task was dispatched to it.
func (n *Notifier) DeliverTask(ctx context.Context, target Target, task *domain.Task) (*Result, error) {
	return n.send(ctx, target, EventTaskDispatched, n.taskPayload(task))
}

// Ping sends a signed test delivery.
func (n *Notifier) Ping(ctx context.Context, target Target) (*Result, error) {
	return n.send(ctx, target, EventPing, nil)
}

func (n *Notifier) send(ctx context.Context, target Target, event string, task *TaskPayload) (*Result, error) {
	result := &Result{DeliveryID: uuid.NewString()}

	body, err := json.Marshal(envelope{
		Event:      event,
		DeliveryID: result.DeliveryID,
		Task:       task,
		SentAt:     n.now().UTC(),
	})
	if err != nil {
		return result, fmt.Errorf("marshal delivery: %w", err)
	}

	started := n.now()
	backoff := retry.WithMaxRetries(n.maxRetries, retry.NewExponential(n.baseDelay))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result.Attempts++
		status, retryable, err := n.post(ctx, target, event, result.DeliveryID, body)
		result.StatusCode = status
		if err == nil {
			return nil
		}
		if retryable {
			slog.Warn("webhook delivery attempt failed",
				"listing_id", target.ListingID,
				"event", event,
				"delivery_id", result.DeliveryID,
				"attempt", result.Attempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	result.Duration = n.now().Sub(started)

	if err != nil {
		return result, fmt.Errorf("deliver %s to listing %s: %w", event, target.ListingID, err)
	}
	return result, nil
}

// retryableStatus reports whether a response status may succeed on a later attempt.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// post performs one delivery attempt. Transport failures are retryable.
func (n *Notifier) post(ctx context.Context, target Target, event, deliveryID string, body []byte) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "swarmmarket-webhook/1")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(target.Secret, body))
	}

	res, err := n.client.Do(req)
	if err != nil {
		return 0, ctx.Err() == nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
		return res.StatusCode, retryableStatus(res.StatusCode), err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))
	return res.StatusCode, false, nil
}
