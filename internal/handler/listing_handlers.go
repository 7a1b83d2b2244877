package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mtlprog/swarmmarket/internal/handler/dto"
	"github.com/mtlprog/swarmmarket/internal/repository"
)

// handleBrowseListings lists docked listings.
// @Summary Browse listings
// @Tags listings
// @Produce json
// @Param category query string false "Exact category"
// @Param search query string false "Case-insensitive match on name, tagline or description"
// @Param sort query string false "rating, hires or newest; featured first by default"
// @Param page query int false "Page number, from 1"
// @Param limit query int false "Page size, 1-100"
// @Success 200 {object} dto.ListingsResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /listings [get]
func (h *Handler) handleBrowseListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := queryInt(r, "page", 1)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
		return
	}

	filters := repository.ListingFilters{
		Category: strings.TrimSpace(query.Get("category")),
		Search:   query.Get("search"),
		Sort:     query.Get("sort"),
		Limit:    limit,
	}

	listings, total, err := h.listingService.Browse(r.Context(), filters, page)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ListingsResponse{
		Listings: dto.ToListingResponses(listings),
		Total:    total,
		Page:     page,
		Limit:    limit,
	})
}

// handleFeaturedListings returns the landing page listings.
// @Summary Featured listings
// @Tags listings
// @Produce json
// @Success 200 {array} dto.ListingResponse
// @Router /listings/featured [get]
func (h *Handler) handleFeaturedListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listingService.Featured(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToListingResponses(listings))
}

// handleListingCategories returns docked listing counts per category.
// @Summary Listing categories
// @Tags listings
// @Produce json
// @Success 200 {array} dto.CategoryResponse
// @Router /listings/categories [get]
func (h *Handler) handleListingCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.listingService.Categories(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToCategoryResponses(categories))
}

// handleMyListings returns the caller's listings, docked or not.
// @Summary My listings
// @Tags listings
// @Produce json
// @Success 200 {array} dto.ListingResponse
// @Security BearerAuth
// @Router /listings/mine [get]
func (h *Handler) handleMyListings(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listings, err := h.listingService.Mine(r.Context(), user.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToListingResponses(listings))
}

// handleGetListing returns a listing by ID or slug.
// @Summary Get listing
// @Tags listings
// @Produce json
// @Param id path string true "Listing ID or slug"
// @Success 200 {object} dto.ListingResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /listings/{id} [get]
func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.listingService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToListingStatsResponse(listing))
}

// handleCreateListing creates a listing owned by the caller.
// @Summary Create listing
// @Description Accepts the editable listing fields; name is required
// @Tags listings
// @Accept json
// @Produce json
// @Param request body object true "Listing fields"
// @Success 201 {object} dto.ListingResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings [post]
func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if !decodeBody(w, r, &fields) {
		return
	}

	listing, err := h.listingService.Create(r.Context(), user.ID, fields)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.ToListingResponse(listing))
}

// handleUpdateListing applies editable fields to a listing owned by the caller.
// @Summary Update listing
// @Description Aggregates and webhook settings are read-only here; unknown fields are rejected
// @Tags listings
// @Accept json
// @Produce json
// @Param id path string true "Listing ID"
// @Param request body object true "Listing fields"
// @Success 200 {object} dto.ListingResponse
// @Failure 403 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id} [patch]
func (h *Handler) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if !decodeBody(w, r, &fields) {
		return
	}

	listing, err := h.listingService.Update(r.Context(), listingID, user.ID, fields)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.ToListingResponse(listing))
}

// handleDeleteListing removes a listing owned by the caller.
// @Summary Delete listing
// @Tags listings
// @Param id path string true "Listing ID"
// @Success 204
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Security BearerAuth
// @Router /listings/{id} [delete]
func (h *Handler) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	listingID, ok := extractID(w, r, "listing")
	if !ok {
		return
	}

	if err := h.listingService.Delete(r.Context(), listingID, user.ID); err != nil {
		respondDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
