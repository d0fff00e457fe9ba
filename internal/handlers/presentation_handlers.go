package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"slidecollab/internal/models"
	"slidecollab/internal/services"
	"slidecollab/internal/session"
)

// PresentationHandler handles HTTP requests for presentations, their slides
// and their users
type PresentationHandler struct {
	presentations *services.PresentationService
}

// NewPresentationHandler creates a new presentation handler
func NewPresentationHandler(presentations *services.PresentationService) *PresentationHandler {
	return &PresentationHandler{
		presentations: presentations,
	}
}

// CreatePresentationRequest represents a request to create a presentation
type CreatePresentationRequest struct {
	Title string `json:"title"`
}

// PresentationResponse carries one presentation
type PresentationResponse struct {
	Success      bool                 `json:"success"`
	Presentation *models.Presentation `json:"presentation"`
	Role         *models.Role         `json:"role,omitempty"`
}

// PresentationListResponse carries all presentations
type PresentationListResponse struct {
	Success       bool                   `json:"success"`
	Presentations []*models.Presentation `json:"presentations"`
}

// SlideResponse describes an added slide
type SlideResponse struct {
	Success bool  `json:"success"`
	SlideID int64 `json:"slideId"`
	Order   int   `json:"order"`
}

// UsersResponse lists the users of a presentation
type UsersResponse struct {
	Success bool           `json:"success"`
	Users   []*models.User `json:"users"`
}

// UpdateRoleRequest represents a role change
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// PresentResponse is the presenter view of a presentation
type PresentResponse struct {
	Success      bool                       `json:"success"`
	Presentation *models.Presentation       `json:"presentation"`
	Slides       []*services.PresentedSlide `json:"slides"`
}

func presentationID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, models.ErrInvalidFormat
	}
	return id, nil
}

// ListPresentations lists presentations, newest first
// GET /api/presentations
func (ph *PresentationHandler) ListPresentations(w http.ResponseWriter, r *http.Request) {
	presentations, err := ph.presentations.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PresentationListResponse{
		Success:       true,
		Presentations: presentations,
	})
}

// CreatePresentation creates a presentation owned by the caller
// POST /api/presentations
func (ph *PresentationHandler) CreatePresentation(w http.ResponseWriter, r *http.Request) {
	var req CreatePresentationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	presentation, err := ph.presentations.Create(r.Context(), username, req.Title)
	if err != nil {
		respondError(w, err)
		return
	}
	role := models.RoleCreator
	respondJSON(w, http.StatusCreated, PresentationResponse{
		Success:      true,
		Presentation: presentation,
		Role:         &role,
	})
}

// VisitPresentation opens a presentation for editing. First-time visitors
// are registered as Viewers.
// GET /api/presentations/{id}
func (ph *PresentationHandler) VisitPresentation(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	presentation, user, err := ph.presentations.Visit(r.Context(), username, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PresentationResponse{
		Success:      true,
		Presentation: presentation,
		Role:         &user.Role,
	})
}

// DeletePresentation removes a presentation with its slides and users
// DELETE /api/presentations/{id}
func (ph *PresentationHandler) DeletePresentation(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	if err := ph.presentations.Delete(r.Context(), username, id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true})
}

// AddSlide appends a blank slide
// POST /api/presentations/{id}/slides
func (ph *PresentationHandler) AddSlide(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	slide, err := ph.presentations.AddSlide(r.Context(), username, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, SlideResponse{
		Success: true,
		SlideID: slide.ID,
		Order:   slide.Order,
	})
}

// DeleteSlide removes a slide other than the last one
// DELETE /api/presentations/{id}/slides/{slideId}
func (ph *PresentationHandler) DeleteSlide(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	slideID, err := services.ParseSlideID(mux.Vars(r)["slideId"])
	if err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	if err := ph.presentations.DeleteSlide(r.Context(), username, id, slideID); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true})
}

// ListUsers lists the users of a presentation with their roles
// GET /api/presentations/{id}/users
func (ph *PresentationHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	users, err := ph.presentations.ListUsers(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, UsersResponse{
		Success: true,
		Users:   users,
	})
}

// UpdateUserRole changes the role of another user
// PUT /api/presentations/{id}/users/{username}/role
func (ph *PresentationHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req UpdateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	username := session.FromContext(r.Context()).Name()
	target := mux.Vars(r)["username"]
	if err := ph.presentations.UpdateUserRole(r.Context(), username, id, target, req.Role); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true})
}

// Present returns every slide ready to show
// GET /api/presentations/{id}/present
func (ph *PresentationHandler) Present(w http.ResponseWriter, r *http.Request) {
	id, err := presentationID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	presentation, slides, err := ph.presentations.Present(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PresentResponse{
		Success:      true,
		Presentation: presentation,
		Slides:       slides,
	})
}
