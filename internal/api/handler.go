// Package api exposes the print-queue service as a JSON HTTP surface
// using gorilla/mux routing, in the style of the teacher's master API
// handler: one struct holding the collaborators, one RegisterRoutes
// method, one method per endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/metrics"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/service"
	"github.com/psantana5/printassist/internal/store"
)

// Handler serves the print-queue HTTP API.
type Handler struct {
	svc     *service.Service
	log     *logging.Logger
	metrics *metrics.Exporter
}

func NewHandler(svc *service.Service, log *logging.Logger, m *metrics.Exporter) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/projects", h.CreateProject).Methods("POST")
	r.HandleFunc("/projects", h.ListProjects).Methods("GET")
	r.HandleFunc("/projects/{id}", h.DeleteProject).Methods("DELETE")
	r.HandleFunc("/projects/{id}/plates", h.AddPlates).Methods("POST")

	r.HandleFunc("/plates/{id}", h.DeletePlate).Methods("DELETE")
	r.HandleFunc("/plates/{id}/priority", h.SetPlatePriority).Methods("PUT")
	r.HandleFunc("/plates/{id}/quantity", h.SetPlateQuantity).Methods("PUT")

	r.HandleFunc("/jobs/{id}/start", h.StartJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/complete", h.CompleteJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/fail", h.FailJob).Methods("POST")

	r.HandleFunc("/windows", h.AddUnavailability).Methods("POST")
	r.HandleFunc("/windows/{id}", h.RemoveUnavailability).Methods("DELETE")

	r.HandleFunc("/schedule", h.GetSchedule).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrProjectNotFound),
		errors.Is(err, store.ErrPlateNotFound),
		errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrWindowNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrAlreadyPrinting),
		errors.Is(err, store.ErrPrecondition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("api request failed", map[string]interface{}{"error": err.Error()})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type createProjectRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	proj, err := h.svc.CreateProject(req.Name, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, proj)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.svc.DeleteProject(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.ListProjectsWithProgress()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"projects": progress})
}

func (h *Handler) AddPlates(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["id"]

	var plates []models.Plate
	if err := json.NewDecoder(r.Body).Decode(&plates); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for i := range plates {
		plates[i].ProjectID = projectID
	}

	added, err := h.svc.AddPlates(plates)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"plates": added})
}

func (h *Handler) DeletePlate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.svc.DeletePlate(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

func (h *Handler) SetPlatePriority(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ok, err := h.svc.SetPlatePriority(id, req.Priority)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) SetPlateQuantity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ok, err := h.svc.SetPlateQuantity(id, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "plate not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.svc.StartJob(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "job not found or not queued", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.svc.CompleteJob(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "job not found or not printing", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failJobRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req failJobRequest
	json.NewDecoder(r.Body).Decode(&req) // reason is optional

	replacement, err := h.svc.FailJob(id, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if replacement == nil {
		http.Error(w, "job not found or not printing", http.StatusConflict)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"replacement_job": replacement})
}

type windowRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (h *Handler) AddUnavailability(w http.ResponseWriter, r *http.Request) {
	var req windowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.End.After(req.Start) {
		http.Error(w, "end must be after start", http.StatusBadRequest)
		return
	}
	win, err := h.svc.AddUnavailability(req.Start, req.End)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, win)
}

func (h *Handler) RemoveUnavailability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := h.svc.RemoveUnavailability(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "window not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Schedule()
	if err != nil {
		h.writeError(w, err)
		return
	}

	projects, err := h.svc.ListProjectsWithProgress()
	if err != nil {
		h.writeError(w, err)
		return
	}
	plates, err := h.svc.ListPlates("")
	if err != nil {
		h.writeError(w, err)
		return
	}
	jobs, err := h.svc.ListJobs()
	if err != nil {
		h.writeError(w, err)
		return
	}
	windows, err := h.svc.ListUnavailabilityWindows()
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects":        projects,
		"plates":          plates,
		"jobs":            jobs,
		"schedule":        result.Jobs,
		"computed_at":     result.ComputedAt,
		"next_breakpoint": result.NextBreakpoint,
		"windows":         windows,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
