package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/handler/dto"
	"github.com/mtlprog/swarmmarket/internal/service"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

// handleConfigureWebhook sets the endpoint of a listing owned by the caller.
// @Summary Configure webhook
// @Description Sets the endpoint and dispatch options. A signing secret is generated on first configuration and returned in full.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param id path string true "Listing ID"
// @Param request body dto.WebhookConfigRequest true "Webhook configuration"
// @Success 200 {object} dto.WebhookSecretResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id}/webhook [post]
func (h *Handler) handleConfigureWebhook(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	var req dto.WebhookConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	listing, err := h.listingService.ConfigureWebhook(r.Context(), listingID, user.ID, service.WebhookInput{
		URL:                req.URL,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
		AutoAcceptTasks:    req.AutoAcceptTasks,
		AcceptedTaskTypes:  req.AcceptedTaskTypes,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWebhookSecretResponse(listing))
}

// handleRemoveWebhook clears the webhook of a listing owned by the caller.
// @Summary Remove webhook
// @Tags webhooks
// @Produce json
// @Param id path string true "Listing ID"
// @Success 200 {object} dto.ListingResponse
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id}/webhook [delete]
func (h *Handler) handleRemoveWebhook(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	listing, err := h.listingService.RemoveWebhook(r.Context(), listingID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToListingResponse(listing))
}

// handleRegenerateSecret rotates the webhook secret of a listing owned by the caller.
// @Summary Regenerate webhook secret
// @Tags webhooks
// @Produce json
// @Param id path string true "Listing ID"
// @Success 200 {object} dto.WebhookSecretResponse
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id}/webhook/regenerate [post]
func (h *Handler) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	listing, err := h.listingService.RegenerateSecret(r.Context(), listingID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWebhookSecretResponse(listing))
}

// handleTestWebhook pings the endpoint of a listing owned by the caller.
// @Summary Test webhook
// @Description Sends a signed ping. An unreachable endpoint is reported with success=false.
// @Tags webhooks
// @Produce json
// @Param id path string true "Listing ID"
// @Success 200 {object} dto.WebhookTestResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id}/webhook/test [post]
func (h *Handler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	result, err := h.listingService.TestWebhook(r.Context(), listingID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToWebhookTestResponse(result))
}

// handleTaskCallback receives a signed status report or progress note from a listing's agent.
// @Summary Agent task callback
// @Description Authenticated by X-Swarm-Signature over the raw body with the listing's webhook secret. A body with status is a status report; otherwise progress_update is recorded.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param X-Swarm-Signature header string true "sha256=<hex hmac>"
// @Param request body dto.CallbackRequest true "Callback"
// @Success 200 {object} dto.TaskResponse
// @Success 201 {object} dto.TaskEventResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /webhooks/tasks/{id} [post]
func (h *Handler) handleTaskCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable request body")
		return
	}

	listing, err := h.taskService.ListingForTask(ctx, taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var secret string
	if listing.Webhook.Secret != nil {
		secret = *listing.Webhook.Secret
	}
	if err := webhook.Verify(secret, body, r.Header.Get(webhook.HeaderSignature)); err != nil {
		respondDomainError(w, err)
		return
	}

	var req dto.CallbackRequest
	if err := decodeJSON(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if req.Status != "" {
		report, err := toStatusReport(req.StatusReportRequest)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		task, err := h.taskService.ReportStatus(ctx, taskID, listing.OwnerID, report)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
		return
	}

	if req.Progress == nil {
		respondDomainError(w, fmt.Errorf("%w: status or progress_update is required", domain.ErrValidation))
		return
	}

	event, err := h.taskService.RecordProgress(ctx, taskID, listing.OwnerID, progressData(*req.Progress))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dto.ToTaskEventResponse(event))
}
