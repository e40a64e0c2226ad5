package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/printassist/internal/coordinator"
	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/service"
	"github.com/psantana5/printassist/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *mux.Router) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := logging.NewLogger(logging.FATAL, false)
	coord := coordinator.New(st, nil, log)
	svc := service.New(st, coord, log)
	h := NewHandler(svc, log, nil)

	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return h, r
}

func doRequest(t *testing.T, r *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateProjectAndListWithProgress(t *testing.T) {
	_, r := newTestHandler(t)

	rec := doRequest(t, r, "POST", "/projects", createProjectRequest{Name: "benchy set", Notes: "calibration"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("CreateProject status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, "GET", "/projects", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ListProjects status = %d", rec.Code)
	}
	var resp struct {
		Projects []service.ProjectProgress `json:"projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Projects) != 1 || resp.Projects[0].Name != "benchy set" {
		t.Fatalf("unexpected projects: %+v", resp.Projects)
	}
}

func TestAddPlatesAndStartJobLifecycle(t *testing.T) {
	_, r := newTestHandler(t)

	rec := doRequest(t, r, "POST", "/projects", createProjectRequest{Name: "p"})
	var proj struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &proj)

	rec = doRequest(t, r, "POST", "/projects/"+proj.ID+"/plates", []map[string]interface{}{
		{"name": "part_a", "quantity_needed": 2, "estimated_duration_seconds": 1800},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("AddPlates status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, "GET", "/schedule", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GetSchedule status = %d", rec.Code)
	}
	var sched struct {
		Jobs []struct {
			ID string `json:"id"`
		} `json:"jobs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &sched)
	if len(sched.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d: %s", len(sched.Jobs), rec.Body.String())
	}

	rec = doRequest(t, r, "POST", "/jobs/"+sched.Jobs[0].ID+"/start", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("StartJob status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, r, "POST", "/jobs/"+sched.Jobs[1].ID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict starting a second job while one prints, got %d", rec.Code)
	}

	rec = doRequest(t, r, "POST", "/jobs/"+sched.Jobs[0].ID+"/complete", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("CompleteJob status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAddUnavailabilityRejectsInvertedWindow(t *testing.T) {
	_, r := newTestHandler(t)
	now := time.Now()
	rec := doRequest(t, r, "POST", "/windows", windowRequest{Start: now, End: now.Add(-time.Hour)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for inverted window, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	_, r := newTestHandler(t)
	rec := doRequest(t, r, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Health status = %d", rec.Code)
	}
}
