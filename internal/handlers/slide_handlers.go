package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"slidecollab/internal/models"
	"slidecollab/internal/realtime"
	"slidecollab/internal/services"
	"slidecollab/internal/session"
)

// SlideHandler serves slide snapshots, presence, the fallback save and the
// health check
type SlideHandler struct {
	store     *services.DocumentStore
	snapshots *services.SnapshotService
	hub       *realtime.Hub
}

// NewSlideHandler creates a new slide handler
func NewSlideHandler(store *services.DocumentStore, snapshots *services.SnapshotService, hub *realtime.Hub) *SlideHandler {
	return &SlideHandler{
		store:     store,
		snapshots: snapshots,
		hub:       hub,
	}
}

// SlideDataResponse carries the latest snapshot of a slide
type SlideDataResponse struct {
	Success    bool   `json:"success"`
	SvgData    string `json:"svgData"`
	SlideID    int64  `json:"slideId"`
	HasData    bool   `json:"hasData"`
	IsJSONData bool   `json:"isJsonData"`
}

// SaveSlideRequest represents a fallback save
type SaveSlideRequest struct {
	SlideID int64  `json:"slideId"`
	SvgData string `json:"svgData"`
}

// PresenceResponse lists who is in a slide's room
type PresenceResponse struct {
	Success bool     `json:"success"`
	SlideID int64    `json:"slideId"`
	Users   []string `json:"users"`
}

// GetSvg returns the slide snapshot as an image. Missing and blank slides
// get a placeholder; this endpoint always answers 200.
// GET /api/slides/{slideId}/svg
func (sh *SlideHandler) GetSvg(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")

	slideID, err := services.ParseSlideID(mux.Vars(r)["slideId"])
	if err != nil {
		w.Write([]byte(services.PlaceholderSnapshot("Error: Invalid Slide ID", true)))
		return
	}

	slide, err := sh.snapshots.Get(r.Context(), slideID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		w.Write([]byte(services.PlaceholderSnapshot(fmt.Sprintf("Slide Not Found (ID: %d)", slideID), false)))
	case err != nil:
		glog.Errorf("Failed to load slide %d: %v", slideID, err)
		w.Write([]byte(services.PlaceholderSnapshot("Error: "+models.UserMessage(err), true)))
	case slide.IsBlank():
		w.Write([]byte(services.BlankSlideSnapshot(slide.Order)))
	default:
		w.Write(slide.Snapshot)
	}
}

// GetSlideData returns the slide snapshot as JSON. A missing slide yields an
// empty snapshot; only a malformed id is reported as a failure.
// GET /api/slides/{slideId}/data
func (sh *SlideHandler) GetSlideData(w http.ResponseWriter, r *http.Request) {
	slideID, err := services.ParseSlideID(mux.Vars(r)["slideId"])
	if err != nil {
		respondJSON(w, http.StatusOK, Response{
			Success: false,
			Message: models.UserMessage(err),
		})
		return
	}

	slide, err := sh.snapshots.Get(r.Context(), slideID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		glog.Errorf("Failed to load slide %d: %v", slideID, err)
		respondJSON(w, http.StatusOK, Response{
			Success: false,
			Message: models.UserMessage(err),
		})
		return
	}

	response := SlideDataResponse{
		Success: true,
		SvgData: services.EmptySnapshot,
		SlideID: slideID,
	}
	if err == nil && !slide.IsBlank() {
		response.SvgData = string(slide.Snapshot)
		response.HasData = true
		response.IsJSONData = strings.HasPrefix(strings.TrimSpace(response.SvgData), "{")
	}
	respondJSON(w, http.StatusOK, response)
}

// GetPresence lists the users joined to the slide's room on this server
// GET /api/slides/{slideId}/presence
func (sh *SlideHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	slideID, err := services.ParseSlideID(mux.Vars(r)["slideId"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PresenceResponse{
		Success: true,
		SlideID: slideID,
		Users:   sh.hub.Members(realtime.SlideRoom(slideID)),
	})
}

// SaveSlide is the non-realtime save used when the realtime acknowledgement
// does not arrive in time. It runs the same save pipeline.
// POST /api/slides/save
func (sh *SlideHandler) SaveSlide(w http.ResponseWriter, r *http.Request) {
	var req SaveSlideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.SlideID <= 0 {
		respondError(w, models.ErrInvalidSlideID)
		return
	}

	username := session.FromContext(r.Context()).Name()
	if err := sh.snapshots.Save(r.Context(), req.SlideID, username, req.SvgData); err != nil {
		glog.Infof("Fallback save of slide %d by %s failed: %v", req.SlideID, username, err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Slide saved",
	})
}

// Health checks the database connection
// GET /healthz
func (sh *SlideHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := sh.store.Ping(r.Context()); err != nil {
		glog.Errorf("Health check failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Message: "Cannot connect to database",
		})
		return
	}
	respondJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Connected successfully",
	})
}
