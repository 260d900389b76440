package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/db"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/queue"
	"github.com/bobarin/cueframe/internal/timing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RenderStore is the persistence the handlers need. *db.DB implements it.
type RenderStore interface {
	CreateRender(ctx context.Context, render *models.Render) error
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListRenders(ctx context.Context, status string, limit, offset int) ([]models.Render, error)
	CountRenders(ctx context.Context, status string) (int, error)
	GetCueOutcomes(ctx context.Context, renderID uuid.UUID) ([]models.CueOutcome, error)
	GetRenderJobs(ctx context.Context, renderID uuid.UUID) ([]models.Job, error)
	CreateJob(ctx context.Context, job *models.Job) error
}

// RenderQueue accepts render jobs. *queue.Queue implements it.
type RenderQueue interface {
	EnqueueRender(ctx context.Context, renderID, jobID uuid.UUID) error
	PendingRenders(ctx context.Context) (int64, error)
}

// URLSigner turns storage paths into URLs. *storage.Storage implements it.
type URLSigner interface {
	GetPublicURL(path string) string
	GetSignedURL(ctx context.Context, path string, expiresIn int) (string, error)
}

type Handler struct {
	db      RenderStore
	queue   RenderQueue
	storage URLSigner
	mode    annotation.Mode
}

func NewHandler(store RenderStore, q RenderQueue, stor URLSigner, mode annotation.Mode) *Handler {
	return &Handler{
		db:      store,
		queue:   q,
		storage: stor,
		mode:    mode,
	}
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate: a script wins; otherwise one is written for the destination
	hasScript := req.Script != nil && strings.TrimSpace(*req.Script) != ""
	hasDestination := req.Destination != nil && strings.TrimSpace(*req.Destination) != ""
	if !hasScript && !hasDestination {
		respondError(w, http.StatusBadRequest, "Either script or destination is required")
		return
	}

	if hasScript {
		res, err := annotation.Extract(*req.Script, h.mode)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if len(res.Annotations) > 0 && res.WordCount == 0 {
			respondError(w, http.StatusUnprocessableEntity, "Script has cues but no narration")
			return
		}
	}

	if req.BaseVideoURL != nil && *req.BaseVideoURL != "" && !validVideoRef(*req.BaseVideoURL) {
		respondError(w, http.StatusBadRequest, "base_video_url must be an http(s) or storage:// URL")
		return
	}

	language := "English"
	if req.Language != nil && strings.TrimSpace(*req.Language) != "" {
		language = strings.TrimSpace(*req.Language)
	}

	render := &models.Render{
		ID:           uuid.New(),
		Destination:  req.Destination,
		Language:     &language,
		BaseVideoURL: req.BaseVideoURL,
		Status:       models.RenderStatusQueued,
	}
	if hasScript {
		render.Script = req.Script
	}

	if err := h.db.CreateRender(r.Context(), render); err != nil {
		log.Printf("[API] Failed to create render: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	// Create and enqueue job
	jobID := uuid.New()
	job := &models.Job{
		ID:       jobID,
		RenderID: render.ID,
		Type:     queue.JobTypeRenderVideo,
		Status:   models.JobStatusQueued,
	}

	if err := h.db.CreateJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), render.ID, jobID); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateRenderResponse{
		RenderID: render.ID,
		Status:   render.Status,
	})
}

// ListRenders handles GET /v1/renders
// Query params:
//   - status: filter by render status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !validRenderStatus(models.RenderStatus(statusFilter)) {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, scripting, synthesizing, compositing, completed, failed")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountRenders(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count renders")
		return
	}

	renders, err := h.db.ListRenders(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list renders")
		return
	}

	respondJSON(w, http.StatusOK, models.ListRendersResponse{
		Renders: renders,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	cues, err := h.db.GetCueOutcomes(r.Context(), render.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get cue outcomes")
		return
	}

	response := models.RenderResponse{
		Render: *render,
		Cues:   cues,
	}
	if render.OutputPath != nil {
		url := h.storage.GetPublicURL(*render.OutputPath)
		response.VideoURL = &url
	}

	respondJSON(w, http.StatusOK, response)
}

// GetRenderCues handles GET /v1/renders/{id}/cues
func (h *Handler) GetRenderCues(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	cues, err := h.db.GetCueOutcomes(r.Context(), render.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get cue outcomes")
		return
	}

	respondJSON(w, http.StatusOK, cues)
}

// GetRenderDownload handles GET /v1/renders/{id}/download
func (h *Handler) GetRenderDownload(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	if render.OutputPath == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	// Get signed URL (valid for 1 hour)
	signedURL, err := h.storage.GetSignedURL(r.Context(), *render.OutputPath, 3600)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// GetRenderJobs handles GET /v1/renders/{id}/debug/jobs
func (h *Handler) GetRenderJobs(w http.ResponseWriter, r *http.Request) {
	renderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return
	}

	jobs, err := h.db.GetRenderJobs(r.Context(), renderID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	respondJSON(w, http.StatusOK, jobs)
}

// PreviewScript handles POST /v1/scripts/preview. It runs extraction, and timing
// when a duration is given, without touching footage or video.
func (h *Handler) PreviewScript(w http.ResponseWriter, r *http.Request) {
	var req models.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mode := h.mode
	if req.Strict {
		mode = annotation.ModeStrict
	}

	res, err := annotation.Extract(req.Script, mode)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	response := models.PreviewResponse{
		Cleaned:     res.Cleaned,
		WordCount:   res.WordCount,
		Annotations: res.Annotations,
	}
	if response.Annotations == nil {
		response.Annotations = []models.Annotation{}
	}

	if req.DurationSeconds != nil {
		timed, err := timing.Map(res.Annotations, res.WordCount, *req.DurationSeconds)
		if err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		response.Timed = timed
	}

	respondJSON(w, http.StatusOK, response)
}

// Helper methods

func (h *Handler) loadRender(w http.ResponseWriter, r *http.Request) (*models.Render, bool) {
	renderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return nil, false
	}

	render, err := h.db.GetRender(r.Context(), renderID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Render not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get render")
		return nil, false
	}

	return render, true
}

func validRenderStatus(s models.RenderStatus) bool {
	switch s {
	case models.RenderStatusQueued, models.RenderStatusScripting,
		models.RenderStatusSynthesizing, models.RenderStatusCompositing,
		models.RenderStatusCompleted, models.RenderStatusFailed:
		return true
	}
	return false
}

func validVideoRef(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "storage":
		return u.Host != "" || u.Path != ""
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health handles GET /health. It reports the render backlog when Redis answers and
// stays 200 either way.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if pending, err := h.queue.PendingRenders(r.Context()); err != nil {
		log.Printf("[API] Failed to read queue length: %v", err)
		body["queue"] = "unavailable"
	} else {
		body["pending_renders"] = pending
	}
	respondJSON(w, http.StatusOK, body)
}
