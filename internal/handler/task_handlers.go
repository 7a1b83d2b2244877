package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/handler/dto"
	"github.com/mtlprog/swarmmarket/internal/service"
)

// handleCreateTask posts a task, optionally against a listing.
// @Summary Create a task
// @Description Against a listing the task is assigned and counts as a hire. Listings with an auto-accepting webhook receive it dispatched.
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body dto.CreateTaskRequest true "Task creation request"
// @Success 201 {object} dto.TaskResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks [post]
func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CreateTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inputs, err := jsonObject("inputs", req.Inputs)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	constraints, err := jsonObject("constraints", req.Constraints)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, err := h.taskService.CreateTask(r.Context(), service.CreateTaskInput{
		BuyerID:     user.ID,
		ListingID:   req.ListingID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Inputs:      inputs,
		Constraints: constraints,
		BudgetCents: req.BudgetCents,
		Currency:    req.Currency,
		Deadline:    req.Deadline,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskResponse(task))
}

// handleMyTasks lists the tasks the caller posted.
// @Summary My tasks
// @Tags tasks
// @Produce json
// @Param limit query int false "Page size, 1-100"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.TasksResponse
// @Security BearerAuth
// @Router /tasks/mine [get]
func (h *Handler) handleMyTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	tasks, err := h.taskService.ListByBuyer(r.Context(), user.ID, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TasksResponse{
		Tasks:  dto.ToTaskViewResponses(tasks),
		Limit:  limit,
		Offset: offset,
	})
}

// handleIncomingTasks lists the tasks targeting the caller's listings.
// @Summary Incoming tasks
// @Tags tasks
// @Produce json
// @Param status query string false "Comma-separated statuses"
// @Param limit query int false "Page size, 1-100"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.TasksResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/incoming [get]
func (h *Handler) handleIncomingTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	var statuses []domain.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, domain.TaskStatus(s))
			}
		}
	}

	tasks, err := h.taskService.ListIncoming(r.Context(), user.ID, statuses, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TasksResponse{
		Tasks:  dto.ToTaskViewResponses(tasks),
		Limit:  limit,
		Offset: offset,
	})
}

// handleGetTask returns a task visible to the caller.
// @Summary Get task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} dto.TaskResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id} [get]
func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	view, err := h.taskService.GetTask(r.Context(), taskID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskViewResponse(view))
}

// handleTaskEvents returns the audit trail of a task visible to the caller.
// @Summary Task events
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} dto.TaskEventsResponse
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/events [get]
func (h *Handler) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	events, err := h.taskService.ListEvents(r.Context(), taskID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.TaskEventsResponse{Events: dto.ToTaskEventResponses(events)})
}

// handleAcceptResult records the buyer's approval of a completed task.
// @Summary Accept task result
// @Description Credits the listing with the task budget and an optional 1-5 rating
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.AcceptResultRequest false "Feedback and rating"
// @Success 200 {object} dto.TaskResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/accept-result [post]
func (h *Handler) handleAcceptResult(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.AcceptResultRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	task, err := h.taskService.AcceptResult(r.Context(), taskID, user.ID, req.Feedback, req.Rating)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
}

// handleRejectResult records the buyer's rejection of a completed task.
// @Summary Reject task result
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.RejectResultRequest false "Feedback"
// @Success 200 {object} dto.TaskResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/reject-result [post]
func (h *Handler) handleRejectResult(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.RejectResultRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	task, err := h.taskService.RejectResult(r.Context(), taskID, user.ID, req.Feedback)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
}

// handleReportStatus moves a task on behalf of the listing that owns it.
// @Summary Report task status
// @Description Owner of the task's listing reports dispatched, accepted, in_progress, completed or failed
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.StatusReportRequest true "Status report"
// @Success 200 {object} dto.TaskResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/status [post]
func (h *Handler) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.StatusReportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := toStatusReport(req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	task, err := h.taskService.ReportStatus(r.Context(), taskID, user.ID, report)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToTaskResponse(task))
}

// handleRecordProgress appends a progress note to an active task.
// @Summary Record task progress
// @Tags tasks
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body dto.ProgressRequest true "Progress note"
// @Success 201 {object} dto.TaskEventResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{id}/progress [post]
func (h *Handler) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	taskID, ok := extractID(w, r, "task")
	if !ok {
		return
	}

	var req dto.ProgressRequest
	if !decodeBody(w, r, &req) {
		return
	}

	event, err := h.taskService.RecordProgress(r.Context(), taskID, user.ID, progressData(req))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToTaskEventResponse(event))
}

// decodeOptionalBody decodes a JSON body that may be empty, including a
// chunked body of unknown length that turns out to carry nothing.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

// jsonObject validates an optional JSON document that must be an object.
func jsonObject(name string, raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s must be an object", domain.ErrValidation, name)
	}
	return trimmed, nil
}

func toStatusReport(req dto.StatusReportRequest) (service.StatusReport, error) {
	status := domain.TaskStatus(req.Status)
	if !status.IsValid() {
		return service.StatusReport{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, req.Status)
	}
	if req.ConfidenceScore != nil && (*req.ConfidenceScore < 0 || *req.ConfidenceScore > 1) {
		return service.StatusReport{}, fmt.Errorf("%w: confidence_score must be between 0 and 1", domain.ErrValidation)
	}
	if req.ExecutionTimeSeconds != nil && *req.ExecutionTimeSeconds < 0 {
		return service.StatusReport{}, fmt.Errorf("%w: execution_time_seconds must not be negative", domain.ErrValidation)
	}

	var result []byte
	if trimmed := bytes.TrimSpace(req.Result); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		result = trimmed
	}

	return service.StatusReport{
		Status:               status,
		Result:               result,
		ResultSummary:        req.ResultSummary,
		ExecutionTimeSeconds: req.ExecutionTimeSeconds,
		ConfidenceScore:      req.ConfidenceScore,
		ErrorMessage:         req.ErrorMessage,
	}, nil
}

func progressData(req dto.ProgressRequest) map[string]any {
	data := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	if req.Message != nil {
		data["message"] = *req.Message
	}
	if req.Progress != nil {
		data["progress"] = *req.Progress
	}
	return data
}
