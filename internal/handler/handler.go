package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/mtlprog/swarmmarket/docs" // Import generated docs
	"github.com/mtlprog/swarmmarket/internal/auth"
	"github.com/mtlprog/swarmmarket/internal/config"
	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/handler/dto"
	"github.com/mtlprog/swarmmarket/internal/middleware"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/service"
	"github.com/mtlprog/swarmmarket/internal/static"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxBodyBytes     = 1 << 20
)

// Notifier delivers tasks and pings to listing webhooks.
type Notifier interface {
	service.Dispatcher
	service.Pinger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool                *pgxpool.Pool
	userService         *service.UserService
	listingService      *service.ListingService
	conversationService *service.ConversationService
	taskService         *service.TaskService
	authMiddleware      *middleware.AuthMiddleware
}

// New creates a new Handler instance with all dependencies.
func New(pool *pgxpool.Pool, cfg *config.Config, notifier Notifier) *Handler {
	// Create repositories
	userRepo := repository.NewUserRepository(pool)
	listingRepo := repository.NewListingRepository(pool)
	taskRepo := repository.NewTaskRepository(pool)
	eventRepo := repository.NewTaskEventRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	messageRepo := repository.NewMessageRepository(pool)

	// Create services
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	userService := service.NewUserService(userRepo, listingRepo, taskRepo, eventRepo, messageRepo, tokens)
	listingService := service.NewListingService(pool, listingRepo, notifier)
	conversationService := service.NewConversationService(pool, conversationRepo, messageRepo, listingRepo)
	taskService := service.NewTaskService(pool, taskRepo, eventRepo, listingRepo, notifier)

	return &Handler{
		pool:                pool,
		userService:         userService,
		listingService:      listingService,
		conversationService: conversationService,
		taskService:         taskService,
		authMiddleware:      middleware.NewAuthMiddleware(userService),
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	authed := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.Authenticate(fn)
	}

	// Service info
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /skill.md", h.handleSkillMd)
	mux.HandleFunc("GET /swagger/", httpSwagger.Handler())

	// Identity
	mux.HandleFunc("POST /api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.Handle("GET /api/v1/auth/me", authed(h.handleMe))
	mux.Handle("GET /api/v1/users/dashboard-stats", authed(h.handleDashboardStats))

	// Listings
	mux.HandleFunc("GET /api/v1/listings", h.handleBrowseListings)
	mux.HandleFunc("GET /api/v1/listings/featured", h.handleFeaturedListings)
	mux.HandleFunc("GET /api/v1/listings/categories", h.handleListingCategories)
	mux.Handle("GET /api/v1/listings/mine", authed(h.handleMyListings))
	mux.HandleFunc("GET /api/v1/listings/{id}", h.handleGetListing)
	mux.Handle("POST /api/v1/listings", authed(h.handleCreateListing))
	mux.Handle("PATCH /api/v1/listings/{id}", authed(h.handleUpdateListing))
	mux.Handle("DELETE /api/v1/listings/{id}", authed(h.handleDeleteListing))

	// Webhooks
	mux.Handle("POST /api/v1/listings/{id}/webhook", authed(h.handleConfigureWebhook))
	mux.Handle("DELETE /api/v1/listings/{id}/webhook", authed(h.handleRemoveWebhook))
	mux.Handle("POST /api/v1/listings/{id}/webhook/test", authed(h.handleTestWebhook))
	mux.Handle("POST /api/v1/listings/{id}/webhook/regenerate", authed(h.handleRegenerateSecret))
	mux.HandleFunc("POST /api/v1/webhooks/tasks/{id}", h.handleTaskCallback)

	// Conversations
	mux.Handle("GET /api/v1/conversations", authed(h.handleListConversations))
	mux.Handle("POST /api/v1/conversations", authed(h.handleStartConversation))
	mux.Handle("GET /api/v1/conversations/{id}", authed(h.handleGetConversation))
	mux.Handle("POST /api/v1/conversations/{id}/messages", authed(h.handleSendMessage))
	mux.Handle("PATCH /api/v1/conversations/{id}/read", authed(h.handleMarkRead))

	// Tasks
	mux.Handle("POST /api/v1/tasks", authed(h.handleCreateTask))
	mux.Handle("GET /api/v1/tasks/mine", authed(h.handleMyTasks))
	mux.Handle("GET /api/v1/tasks/incoming", authed(h.handleIncomingTasks))
	mux.Handle("GET /api/v1/tasks/{id}", authed(h.handleGetTask))
	mux.Handle("GET /api/v1/tasks/{id}/events", authed(h.handleTaskEvents))
	mux.Handle("POST /api/v1/tasks/{id}/accept-result", authed(h.handleAcceptResult))
	mux.Handle("POST /api/v1/tasks/{id}/reject-result", authed(h.handleRejectResult))
	mux.Handle("POST /api/v1/tasks/{id}/status", authed(h.handleReportStatus))
	mux.Handle("POST /api/v1/tasks/{id}/progress", authed(h.handleRecordProgress))
}

// Wait blocks until background webhook deliveries have finished.
func (h *Handler) Wait() {
	h.taskService.Wait()
}

// handleRoot returns the service banner.
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":    "SwarmMarket API",
		"docs":    "/swagger/index.html",
		"skill":   "/skill.md",
		"version": "1.0",
	})
}

// handleHealthz returns 200 OK if the database is reachable.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		slog.Error("database health check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleSkillMd serves the webhook protocol description for agent implementers.
func (h *Handler) handleSkillMd(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(static.SkillMd)); err != nil {
		slog.Debug("failed to write skill.md", "error", err)
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a standard error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps a service error to its HTTP response.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	respondError(w, status, code, message)
}

// decodeBody decodes a JSON request body into v.
// Returns false if the body is invalid (error already sent to client).
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

// currentUser returns the authenticated user.
// Returns (nil, false) if missing (error already sent to client).
func currentUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Authentication required")
		return nil, false
	}
	return user, true
}

// extractID extracts and validates a UUID path parameter.
// Returns (id, true) if valid, ("", false) if invalid (error already sent to client).
func extractID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" id is required")
		return "", false
	}

	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", name+" id must be a valid UUID")
		return "", false
	}

	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return value, nil
}

// pagination parses limit and offset query parameters.
// Returns false if either is invalid (error already sent to client).
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err == nil && (limit < 1 || limit > maxPageLimit) {
		err = errors.New("limit must be between 1 and 100")
	}
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return 0, 0, false
	}

	offset, err = queryInt(r, "offset", 0)
	if err == nil && offset < 0 {
		err = errors.New("offset must not be negative")
	}
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return 0, 0, false
	}

	return limit, offset, true
}
