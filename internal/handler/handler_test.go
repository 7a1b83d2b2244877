package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/swarmmarket/internal/config"
	"github.com/mtlprog/swarmmarket/internal/database"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/handler"
	"github.com/mtlprog/swarmmarket/internal/handler/dto"
	"github.com/mtlprog/swarmmarket/internal/middleware"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

// fakeNotifier accepts every delivery without sending it.
type fakeNotifier struct {
	mu        sync.Mutex
	delivered []string
}

func (n *fakeNotifier) DeliverTask(_ context.Context, _ webhook.Target, task *domain.Task) (*webhook.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, task.ID)
	return &webhook.Result{DeliveryID: "delivery-" + task.ID, Attempts: 1, StatusCode: http.StatusOK}, nil
}

func (n *fakeNotifier) Ping(_ context.Context, _ webhook.Target) (*webhook.Result, error) {
	return &webhook.Result{DeliveryID: "ping", Attempts: 1, StatusCode: http.StatusOK, Duration: time.Millisecond}, nil
}

type HandlerTestSuite struct {
	suite.Suite
	pool    *pgxpool.Pool
	handler *handler.Handler
	server  http.Handler

	// Test fixtures
	buyerToken    string
	ownerToken    string
	strangerToken string
	listingID     string
}

func (s *HandlerTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err)
	s.pool = db.Pool()

	_, err = database.RunMigrations(ctx, s.pool)
	s.Require().NoError(err)

	cfg := config.Default()
	cfg.DatabaseURL = databaseURL
	cfg.JWTSecret = "handler-test-secret"

	s.handler = handler.New(s.pool, cfg, &fakeNotifier{})

	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)
	s.server = middleware.CORS(cfg.AllowedOrigins())(mux)
}

func (s *HandlerTestSuite) SetupTest() {
	s.Require().NoError(database.Truncate(context.Background(), s.pool))

	s.buyerToken = s.register("buyer@example.com")
	s.ownerToken = s.register("owner@example.com")
	s.strangerToken = s.register("stranger@example.com")

	w := s.makeRequest(http.MethodPost, "/api/v1/listings", s.ownerToken, map[string]any{
		"name":     "Research Bot",
		"category": "research",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var listing dto.ListingResponse
	s.decode(w, &listing)
	s.listingID = listing.ID
}

func (s *HandlerTestSuite) TearDownTest() {
	s.handler.Wait()
}

func (s *HandlerTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

// makeRequest sends a JSON request through the full router.
func (s *HandlerTestSuite) makeRequest(method, path, token string, body any) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		s.Require().NoError(err)
	}
	return s.sendRaw(method, path, raw, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	})
}

func (s *HandlerTestSuite) sendRaw(method, path string, body []byte, prepare func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if prepare != nil {
		prepare(req)
	}

	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *HandlerTestSuite) errorCode(w *httptest.ResponseRecorder) string {
	var resp dto.ErrorResponse
	s.decode(w, &resp)
	return resp.Error.Code
}

func (s *HandlerTestSuite) register(email string) string {
	w := s.makeRequest(http.MethodPost, "/api/v1/auth/register", "", dto.RegisterRequest{
		Email:    email,
		Password: "correct horse",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.AuthResponse
	s.decode(w, &resp)
	return resp.AccessToken
}

// configureWebhook enables auto-accept on the fixture listing and returns the signing secret.
func (s *HandlerTestSuite) configureWebhook() string {
	autoAccept := true
	w := s.makeRequest(http.MethodPost, "/api/v1/listings/"+s.listingID+"/webhook", s.ownerToken, dto.WebhookConfigRequest{
		URL:             "https://agent.example.com/hook",
		AutoAcceptTasks: &autoAccept,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp dto.WebhookSecretResponse
	s.decode(w, &resp)
	s.Require().NotNil(resp.Secret)
	return *resp.Secret
}

func (s *HandlerTestSuite) createTask(budgetCents int64) dto.TaskResponse {
	w := s.makeRequest(http.MethodPost, "/api/v1/tasks", s.buyerToken, dto.CreateTaskRequest{
		ListingID:   &s.listingID,
		Title:       "Summarize papers",
		Description: "Three papers on agent markets",
		Inputs:      json.RawMessage(`{"urls": ["https://example.com/a"]}`),
		BudgetCents: budgetCents,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var task dto.TaskResponse
	s.decode(w, &task)
	return task
}

func (s *HandlerTestSuite) callback(taskID, secret string, body any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	return s.sendRaw(http.MethodPost, "/api/v1/webhooks/tasks/"+taskID, raw, func(req *http.Request) {
		if secret != "" {
			req.Header.Set(webhook.HeaderSignature, webhook.Sign(secret, raw))
		}
	})
}

// completeTask drives a dispatched task to completed through agent callbacks.
func (s *HandlerTestSuite) completeTask(taskID, secret string) {
	for _, body := range []map[string]any{
		{"status": "accepted"},
		{"status": "in_progress"},
		{"status": "completed", "result": map[string]any{"summary": "thin"}},
	} {
		w := s.callback(taskID, secret, body)
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	}
}

func (s *HandlerTestSuite) TestRegisterLoginMe() {
	w := s.makeRequest(http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{
		Email:    "BUYER@example.com",
		Password: "correct horse",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var auth dto.AuthResponse
	s.decode(w, &auth)
	s.Equal("bearer", auth.TokenType)
	s.Equal("buyer@example.com", auth.User.Email)

	w = s.makeRequest(http.MethodGet, "/api/v1/auth/me", auth.AccessToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var me dto.UserResponse
	s.decode(w, &me)
	s.Equal(auth.User.ID, me.ID)
}

func (s *HandlerTestSuite) TestRegister_Rejections() {
	w := s.makeRequest(http.MethodPost, "/api/v1/auth/register", "", dto.RegisterRequest{
		Email:    "buyer@example.com",
		Password: "correct horse",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("EMAIL_TAKEN", s.errorCode(w))

	w = s.makeRequest(http.MethodPost, "/api/v1/auth/register", "", dto.RegisterRequest{
		Email:    "new@example.com",
		Password: "short",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w))

	w = s.makeRequest(http.MethodPost, "/api/v1/auth/register", "", dto.RegisterRequest{
		Email:    "new@example.com",
		Password: strings.Repeat("x", 73),
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w))

	w = s.sendRaw(http.MethodPost, "/api/v1/auth/register", []byte("{"), nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("INVALID_JSON", s.errorCode(w))
}

func (s *HandlerTestSuite) TestLogin_WrongPassword() {
	w := s.makeRequest(http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{
		Email:    "buyer@example.com",
		Password: "wrong password",
	})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("INVALID_CREDENTIALS", s.errorCode(w))
}

func (s *HandlerTestSuite) TestProtectedRoutes_Unauthorized() {
	w := s.makeRequest(http.MethodGet, "/api/v1/auth/me", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.NotEmpty(w.Header().Get("WWW-Authenticate"))

	w = s.makeRequest(http.MethodPost, "/api/v1/tasks", "not-a-token", dto.CreateTaskRequest{Title: "x"})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("INVALID_TOKEN", s.errorCode(w))
}

func (s *HandlerTestSuite) TestListing_GetBySlugAndBrowse() {
	w := s.makeRequest(http.MethodGet, "/api/v1/listings/research-bot", "", nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var listing dto.ListingResponse
	s.decode(w, &listing)
	s.Equal(s.listingID, listing.ID)
	s.Nil(listing.Webhook.SecretPrefix)

	w = s.makeRequest(http.MethodGet, "/api/v1/listings?category=research", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var page dto.ListingsResponse
	s.decode(w, &page)
	s.Equal(1, page.Total)
	s.Len(page.Listings, 1)

	w = s.makeRequest(http.MethodGet, "/api/v1/listings/no-such-slug", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("LISTING_NOT_FOUND", s.errorCode(w))
}

func (s *HandlerTestSuite) TestListing_UpdateRejections() {
	path := "/api/v1/listings/" + s.listingID

	w := s.makeRequest(http.MethodPatch, path, s.ownerToken, map[string]any{"total_earned_cents": 100})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("READ_ONLY_FIELD", s.errorCode(w))

	w = s.makeRequest(http.MethodPatch, path, s.ownerToken, map[string]any{"colour": "blue"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("UNKNOWN_FIELD", s.errorCode(w))

	w = s.makeRequest(http.MethodPatch, path, s.strangerToken, map[string]any{"tagline": "mine now"})
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("INSUFFICIENT_ACCESS", s.errorCode(w))

	w = s.makeRequest(http.MethodPatch, path, s.ownerToken, map[string]any{"tagline": "Fast research"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var listing dto.ListingResponse
	s.decode(w, &listing)
	s.Require().NotNil(listing.Tagline)
	s.Equal("Fast research", *listing.Tagline)
}

func (s *HandlerTestSuite) TestRejectResult_ChunkedEmptyBody() {
	secret := s.configureWebhook()
	task := s.createTask(1500)

	s.completeTask(task.ID, secret)

	w := s.sendRaw(http.MethodPost, "/api/v1/tasks/"+task.ID+"/reject-result", nil, func(req *http.Request) {
		req.ContentLength = -1
		req.Header.Set("Authorization", "Bearer "+s.buyerToken)
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var rejected dto.TaskResponse
	s.decode(w, &rejected)
	s.Equal(string(domain.TaskStatusFailed), rejected.Status)
	s.Require().NotNil(rejected.BuyerAccepted)
	s.False(*rejected.BuyerAccepted)
	s.Nil(rejected.BuyerFeedback)
}

func (s *HandlerTestSuite) TestAcceptResult_MalformedBody() {
	secret := s.configureWebhook()
	task := s.createTask(1500)

	s.completeTask(task.ID, secret)

	w := s.sendRaw(http.MethodPost, "/api/v1/tasks/"+task.ID+"/accept-result", []byte("{"), func(req *http.Request) {
		req.ContentLength = -1
		req.Header.Set("Authorization", "Bearer "+s.buyerToken)
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("INVALID_JSON", s.errorCode(w))
}

func (s *HandlerTestSuite) TestInvalidPathID() {
	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/not-a-uuid", s.buyerToken, nil)
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("INVALID_REQUEST", s.errorCode(w))
}

func (s *HandlerTestSuite) TestTaskFlow_CallbackAndAccept() {
	secret := s.configureWebhook()

	task := s.createTask(2500)
	s.Equal(string(domain.TaskStatusDispatched), task.Status)
	s.Equal("research", task.Category)

	w := s.callback(task.ID, secret, map[string]any{"status": "accepted"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.callback(task.ID, secret, map[string]any{
		"progress_update": map[string]any{"message": "halfway", "progress": 0.5},
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var progress dto.TaskEventResponse
	s.decode(w, &progress)
	s.Equal(string(domain.EventTypeProgress), progress.EventType)
	s.Equal("halfway", progress.Data["message"])

	w = s.callback(task.ID, secret, map[string]any{"status": "in_progress"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = s.callback(task.ID, secret, map[string]any{
		"status":           "completed",
		"result":           map[string]any{"summary": "done"},
		"confidence_score": 0.9,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var completed dto.TaskResponse
	s.decode(w, &completed)
	s.Equal(string(domain.TaskStatusCompleted), completed.Status)
	s.NotNil(completed.CompletedAt)

	rating := 4
	w = s.makeRequest(http.MethodPost, "/api/v1/tasks/"+task.ID+"/accept-result", s.buyerToken, dto.AcceptResultRequest{Rating: &rating})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var accepted dto.TaskResponse
	s.decode(w, &accepted)
	s.Require().NotNil(accepted.BuyerAccepted)
	s.True(*accepted.BuyerAccepted)

	w = s.makeRequest(http.MethodPost, "/api/v1/tasks/"+task.ID+"/accept-result", s.buyerToken, nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("RESULT_ALREADY_REVIEWED", s.errorCode(w))

	w = s.makeRequest(http.MethodGet, "/api/v1/listings/"+s.listingID, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var listing dto.ListingResponse
	s.decode(w, &listing)
	s.Equal(1, listing.TotalHires)
	s.Equal(1, listing.TasksCompleted)
	s.Equal(int64(2500), listing.TotalEarnedCents)
	s.Require().NotNil(listing.AvgRating)
	s.InDelta(4.0, *listing.AvgRating, 0.001)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/"+task.ID+"/events", s.buyerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var events dto.TaskEventsResponse
	s.decode(w, &events)
	types := make([]string, 0, len(events.Events))
	for _, e := range events.Events {
		types = append(types, e.EventType)
	}
	s.Equal([]string{"created", "dispatched", "accepted", "progress", "started", "completed", "result_accepted"}, types)
}

func (s *HandlerTestSuite) TestCallback_Signature() {
	secret := s.configureWebhook()
	task := s.createTask(1000)

	w := s.callback(task.ID, "", map[string]any{"status": "accepted"})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("INVALID_SIGNATURE", s.errorCode(w))

	w = s.callback(task.ID, "whsec_wrong", map[string]any{"status": "accepted"})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("INVALID_SIGNATURE", s.errorCode(w))

	w = s.callback(task.ID, secret, map[string]any{"status": "bogus"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.callback(task.ID, secret, map[string]any{})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.callback(task.ID, secret, map[string]any{"status": "completed"})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("INVALID_TRANSITION", s.errorCode(w))
}

func (s *HandlerTestSuite) TestTask_Visibility() {
	task := s.createTask(500)
	s.Equal(string(domain.TaskStatusAssigned), task.Status)

	w := s.makeRequest(http.MethodGet, "/api/v1/tasks/"+task.ID, s.strangerToken, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/"+task.ID, s.ownerToken, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/incoming?status=assigned", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var incoming dto.TasksResponse
	s.decode(w, &incoming)
	s.Len(incoming.Tasks, 1)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/incoming?status=unknown", s.ownerToken, nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.makeRequest(http.MethodGet, "/api/v1/tasks/mine?limit=500", s.buyerToken, nil)
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlerTestSuite) TestCreateTask_InvalidInputs() {
	w := s.makeRequest(http.MethodPost, "/api/v1/tasks", s.buyerToken, map[string]any{
		"title":  "Bad inputs",
		"inputs": []string{"not", "an", "object"},
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.makeRequest(http.MethodPost, "/api/v1/tasks", s.buyerToken, map[string]any{
		"title":    "Bad deadline",
		"deadline": "yesterday-ish",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("INVALID_DEADLINE", s.errorCode(w))

	w = s.sendRaw(http.MethodPost, "/api/v1/tasks", []byte(`{"title": "nul\u0000title"}`), func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+s.buyerToken)
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w))
}

func (s *HandlerTestSuite) TestConversationFlow() {
	w := s.makeRequest(http.MethodPost, "/api/v1/conversations", s.buyerToken, dto.StartConversationRequest{
		ListingID: s.listingID,
		Message:   "Can you handle PDFs?",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var started dto.StartConversationResponse
	s.decode(w, &started)

	w = s.makeRequest(http.MethodGet, "/api/v1/conversations", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var list []dto.ConversationResponse
	s.decode(w, &list)
	s.Require().Len(list, 1)
	s.Equal(1, list[0].UnreadCount)

	w = s.makeRequest(http.MethodPatch, "/api/v1/conversations/"+started.ID+"/read", s.ownerToken, nil)
	s.Equal(http.StatusNoContent, w.Code)

	w = s.makeRequest(http.MethodPost, "/api/v1/conversations/"+started.ID+"/messages", s.ownerToken, dto.SendMessageRequest{Content: "Yes"})
	s.Equal(http.StatusCreated, w.Code)

	w = s.makeRequest(http.MethodPost, "/api/v1/conversations/"+started.ID+"/messages", s.ownerToken, dto.SendMessageRequest{Content: "Y\x00es"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("VALIDATION_ERROR", s.errorCode(w))

	w = s.makeRequest(http.MethodGet, "/api/v1/conversations/"+started.ID, s.strangerToken, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.makeRequest(http.MethodPost, "/api/v1/conversations", s.ownerToken, dto.StartConversationRequest{
		ListingID: s.listingID,
		Message:   "Talking to myself",
	})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
	s.Equal("SELF_CONVERSATION", s.errorCode(w))
}

func (s *HandlerTestSuite) TestCORSPreflight() {
	w := s.sendRaw(http.MethodOptions, "/api/v1/tasks", nil, func(req *http.Request) {
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	})
	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func (s *HandlerTestSuite) TestServiceInfo() {
	w := s.makeRequest(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.makeRequest(http.MethodGet, "/skill.md", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), webhook.HeaderSignature)

	w = s.makeRequest(http.MethodGet, "/swagger/doc.json", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Body.String(), "/tasks/{id}/accept-result")
}
