package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/swarmmarket/internal/domain"
)

func testNotifier(retries int) *Notifier {
	return NewNotifier(Config{
		Timeout:    time.Second,
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		BaseURL:    "https://market.example.com/",
	})
}

func testTask() *domain.Task {
	listingID := "listing-1"
	return &domain.Task{
		ID:          "task-1",
		BuyerID:     "buyer-1",
		ListingID:   &listingID,
		Title:       "Summarize",
		Category:    "research",
		Inputs:      []byte(`{"url":"https://example.com"}`),
		BudgetCents: 5000,
		Currency:    "usd",
		Status:      domain.TaskStatusDispatched,
	}
}

func TestDeliverTaskSignsPayload(t *testing.T) {
	var received []byte
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	target := Target{ListingID: "listing-1", URL: server.URL, Secret: "whsec_test"}
	result, err := testNotifier(2).DeliverTask(context.Background(), target, testTask())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, EventTaskDispatched, headers.Get(HeaderEvent))
	assert.Equal(t, result.DeliveryID, headers.Get(HeaderDelivery))
	assert.NoError(t, Verify("whsec_test", received, headers.Get(HeaderSignature)))

	var body struct {
		Event string      `json:"event"`
		Task  TaskPayload `json:"task"`
	}
	require.NoError(t, json.Unmarshal(received, &body))
	assert.Equal(t, EventTaskDispatched, body.Event)
	assert.Equal(t, "task-1", body.Task.ID)
	assert.Equal(t, int64(5000), body.Task.BudgetCents)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(body.Task.Inputs))
	assert.JSONEq(t, `{}`, string(body.Task.Constraints))
	assert.Equal(t, "https://market.example.com/api/v1/webhooks/tasks/task-1", body.Task.CallbackURL)
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	result, err := testNotifier(3).Ping(context.Background(), Target{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
}

func TestDeliverRetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result, err := testNotifier(1).Ping(context.Background(), Target{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
}

func TestDeliverClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	result, err := testNotifier(5).Ping(context.Background(), Target{URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliverExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result, err := testNotifier(2).Ping(context.Background(), Target{URL: server.URL})
	require.Error(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTargetFor(t *testing.T) {
	listing := &domain.Listing{ID: "listing-1"}
	_, err := TargetFor(listing)
	assert.ErrorIs(t, err, domain.ErrWebhookNotConfigured)

	url, secret := "https://agent.example.com/hook", "whsec_abc"
	listing.Webhook.URL = &url
	listing.Webhook.Secret = &secret
	target, err := TargetFor(listing)
	require.NoError(t, err)
	assert.Equal(t, Target{ListingID: "listing-1", URL: url, Secret: secret}, target)
}
