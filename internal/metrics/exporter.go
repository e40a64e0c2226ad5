// Package metrics exposes a Prometheus-compatible /metrics endpoint
// combining hand-written queue/schedule gauges with whatever the
// process has registered against the default Prometheus registry
// (Go runtime stats, etc).
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/store"
)

// Exporter serves hand-written print-queue metrics merged with the
// default Prometheus gatherer's output.
type Exporter struct {
	store     store.Store
	startTime time.Time

	mu              sync.RWMutex
	scheduleRefresh map[string]int64 // outcome -> count
}

func NewExporter(s store.Store) *Exporter {
	return &Exporter{
		store:           s,
		startTime:       time.Now(),
		scheduleRefresh: make(map[string]int64),
	}
}

// RecordScheduleRefresh tallies a coordinator recompute by outcome
// ("ok" or "error"), mirroring the teacher exporter's schedule-attempt
// counter.
func (e *Exporter) RecordScheduleRefresh(outcome string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scheduleRefresh[outcome]++
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	jobs, err := e.store.GetJobs()
	if err != nil {
		fmt.Fprintf(w, "# Error reading jobs: %v\n", err)
		return
	}
	projects, err := e.store.GetProjects()
	if err != nil {
		fmt.Fprintf(w, "# Error reading projects: %v\n", err)
		return
	}
	windows, err := e.store.GetUnavailabilityWindows()
	if err != nil {
		fmt.Fprintf(w, "# Error reading unavailability windows: %v\n", err)
		return
	}

	jobsByStatus := map[models.JobStatus]int{
		models.JobStatusQueued:    0,
		models.JobStatusPrinting:  0,
		models.JobStatusCompleted: 0,
		models.JobStatusFailed:    0,
	}
	for _, j := range jobs {
		jobsByStatus[j.Status]++
	}

	fmt.Fprintf(w, "# HELP printassist_jobs_total Total number of jobs by status\n")
	fmt.Fprintf(w, "# TYPE printassist_jobs_total gauge\n")
	for _, status := range []models.JobStatus{
		models.JobStatusQueued, models.JobStatusPrinting, models.JobStatusCompleted, models.JobStatusFailed,
	} {
		fmt.Fprintf(w, "printassist_jobs_total{status=\"%s\"} %d\n", status, jobsByStatus[status])
	}

	fmt.Fprintf(w, "\n# HELP printassist_queue_depth Number of jobs currently queued\n")
	fmt.Fprintf(w, "# TYPE printassist_queue_depth gauge\n")
	fmt.Fprintf(w, "printassist_queue_depth %d\n", jobsByStatus[models.JobStatusQueued])

	fmt.Fprintf(w, "\n# HELP printassist_projects_total Total number of projects\n")
	fmt.Fprintf(w, "# TYPE printassist_projects_total gauge\n")
	fmt.Fprintf(w, "printassist_projects_total %d\n", len(projects))

	fmt.Fprintf(w, "\n# HELP printassist_unavailability_windows_total Number of declared unavailability windows\n")
	fmt.Fprintf(w, "# TYPE printassist_unavailability_windows_total gauge\n")
	fmt.Fprintf(w, "printassist_unavailability_windows_total %d\n", len(windows))

	e.mu.RLock()
	fmt.Fprintf(w, "\n# HELP printassist_schedule_refresh_total Coordinator schedule recomputations by outcome\n")
	fmt.Fprintf(w, "# TYPE printassist_schedule_refresh_total counter\n")
	for outcome, count := range e.scheduleRefresh {
		fmt.Fprintf(w, "printassist_schedule_refresh_total{outcome=\"%s\"} %d\n", outcome, count)
	}
	e.mu.RUnlock()

	fmt.Fprintf(w, "\n# HELP printassist_uptime_seconds Process uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE printassist_uptime_seconds gauge\n")
	fmt.Fprintf(w, "printassist_uptime_seconds %.0f\n", time.Since(e.startTime).Seconds())

	fmt.Fprintf(w, "\n")

	metricFamilies, err := promclient.DefaultGatherer.Gather()
	if err != nil {
		fmt.Fprintf(w, "# Error gathering Prometheus metrics: %v\n", err)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			fmt.Fprintf(w, "# Error encoding metric %s: %v\n", mf.GetName(), err)
		}
	}
	w.Write(buf.Bytes())
}
