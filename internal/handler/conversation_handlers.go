package handler

import (
	"net/http"

	"github.com/mtlprog/swarmmarket/internal/handler/dto"
)

// handleListConversations lists the caller's conversations, most recent first.
// @Summary List conversations
// @Tags conversations
// @Produce json
// @Success 200 {array} dto.ConversationResponse
// @Security BearerAuth
// @Router /conversations [get]
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	summaries, err := h.conversationService.List(r.Context(), user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToConversationSummaryResponses(summaries))
}

// handleStartConversation opens a conversation with a listing owner.
// @Summary Start conversation
// @Tags conversations
// @Accept json
// @Produce json
// @Param request body dto.StartConversationRequest true "First message"
// @Success 201 {object} dto.StartConversationResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /conversations [post]
func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.StartConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	conversation, message, err := h.conversationService.Start(r.Context(), user.ID, req.ListingID, req.Subject, req.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.StartConversationResponse{
		ID:      conversation.ID,
		Message: dto.ToMessageResponse(message),
	})
}

// handleGetConversation returns a conversation and its messages.
// @Summary Get conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} dto.ConversationDetailResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id} [get]
func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	conversationID, ok := extractID(w, r, "conversation")
	if !ok {
		return
	}

	summary, messages, err := h.conversationService.Get(r.Context(), conversationID, user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ConversationDetailResponse{
		Conversation: dto.ToConversationSummaryResponse(summary),
		Messages:     dto.ToMessageResponses(messages),
	})
}

// handleSendMessage appends a message to a conversation.
// @Summary Send message
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param request body dto.SendMessageRequest true "Message"
// @Success 201 {object} dto.MessageResponse
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/messages [post]
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	conversationID, ok := extractID(w, r, "conversation")
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	message, err := h.conversationService.Send(r.Context(), conversationID, user.ID, req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToMessageResponse(message))
}

// handleMarkRead marks a conversation read for the caller.
// @Summary Mark conversation read
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Success 204
// @Failure 403 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/read [patch]
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	conversationID, ok := extractID(w, r, "conversation")
	if !ok {
		return
	}

	if err := h.conversationService.MarkRead(r.Context(), conversationID, user.ID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
