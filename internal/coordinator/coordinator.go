// Package coordinator memoizes the scheduler's output: recomputing a
// full schedule on every query is wasteful when nothing that feeds it
// has changed, so the coordinator caches the last ScheduleResult and
// only recomputes when the inputs' fingerprint changes, Invalidate is
// called, or the cached result's own next_breakpoint has passed.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/scheduler"
	"github.com/psantana5/printassist/internal/store"
	"github.com/psantana5/printassist/internal/tracing"
)

// TickInterval is the soft polling cadence, matching the teacher's
// background refresh loop.
const TickInterval = 30 * time.Second

// PrinterStatus is the subset of the printer adapter the coordinator
// needs to resolve how long the printer stays busy.
type PrinterStatus interface {
	GetBlockingEndTime() *time.Time
	GetEndTime() *time.Time
}

// Coordinator serves ScheduleResult values backed by a memoized cache.
type Coordinator struct {
	st      store.Store
	printer PrinterStatus
	log     *logging.Logger
	now     func() time.Time
	tracer  trace.Tracer

	invalidate chan struct{}
	stop       chan struct{}
	stopped    sync.Once

	mu          sync.RWMutex
	cached      *models.ScheduleResult
	fingerprint string
}

// New constructs a Coordinator. printer may be nil if no printer
// adapter is wired in, in which case the active job's end time is
// derived purely from its started_at and plate duration.
func New(st store.Store, printer PrinterStatus, log *logging.Logger) *Coordinator {
	return &Coordinator{
		st:         st,
		printer:    printer,
		log:        log,
		now:        time.Now,
		invalidate: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// SetTracer attaches a tracer used to span schedule recomputation.
// Optional; a nil (default) tracer leaves refresh untraced.
func (c *Coordinator) SetTracer(t trace.Tracer) {
	c.tracer = t
}

// Invalidate marks the cached schedule stale, so the next Schedule call
// recomputes, and wakes the background loop. Safe to call from any
// goroutine; it never waits for a recompute.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.fingerprint = ""
	c.mu.Unlock()

	select {
	case c.invalidate <- struct{}{}:
	default:
	}
}

// Run drives the background refresh loop until Stop is called. It
// wakes on the soft tick interval or an Invalidate push, whichever
// comes first. An Invalidate push always recomputes; a tick recomputes
// only if recomputation is actually due.
func (c *Coordinator) Run() {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.invalidate:
			if err := c.refresh(); err != nil {
				c.log.Error("schedule refresh failed", map[string]interface{}{"error": err.Error()})
			}
		case <-ticker.C:
			if err := c.refreshIfDue(); err != nil {
				c.log.Error("schedule refresh failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Stop ends the background loop. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopped.Do(func() { close(c.stop) })
}

// Schedule returns the current ScheduleResult, recomputing it first if
// it's stale (no cache yet, inputs changed, Invalidate was called, or
// the cached breakpoint has passed).
func (c *Coordinator) Schedule() (models.ScheduleResult, error) {
	due, err := c.isDue()
	if err != nil {
		return models.ScheduleResult{}, err
	}
	if due {
		if err := c.refresh(); err != nil {
			return models.ScheduleResult{}, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.cached, nil
}

func (c *Coordinator) refreshIfDue() error {
	due, err := c.isDue()
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	return c.refresh()
}

func (c *Coordinator) isDue() (bool, error) {
	c.mu.RLock()
	cached := c.cached
	fp := c.fingerprint
	c.mu.RUnlock()

	if cached == nil {
		return true, nil
	}
	now := c.now().UTC()
	if cached.NextBreakpoint != nil && !now.Before(*cached.NextBreakpoint) {
		return true, nil
	}

	newFp, err := c.computeFingerprint()
	if err != nil {
		return false, err
	}
	return newFp != fp, nil
}

func (c *Coordinator) refresh() (err error) {
	var span trace.Span
	ctx := context.Background()
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "schedule.refresh")
		defer func() {
			if err != nil {
				tracing.SetError(ctx, err)
			}
			span.End()
		}()
	}

	queued, err := c.st.GetQueuedJobs()
	if err != nil {
		return err
	}
	plates, err := c.st.GetPlates("")
	if err != nil {
		return err
	}
	windows, err := c.st.GetUnavailabilityWindows()
	if err != nil {
		return err
	}

	platesByID := make(map[string]models.Plate, len(plates))
	for _, p := range plates {
		platesByID[p.ID] = p
	}

	now := c.now().UTC()
	activeEnd, err := c.resolveActiveJobEnd(now, platesByID)
	if err != nil {
		return err
	}

	result := scheduler.BuildSchedule(scheduler.Input{
		QueuedJobs:   queued,
		PlatesByID:   platesByID,
		Windows:      windows,
		Now:          now,
		ActiveJobEnd: activeEnd,
	})

	fp := fingerprint(queued, plates, windows, activeEnd)

	if span != nil {
		span.SetAttributes(
			attribute.Int("printassist.queued_jobs", len(queued)),
			attribute.Int("printassist.scheduled_jobs", len(result.Jobs)),
		)
	}

	c.mu.Lock()
	c.cached = &result
	c.fingerprint = fp
	c.mu.Unlock()

	return nil
}

func (c *Coordinator) computeFingerprint() (string, error) {
	queued, err := c.st.GetQueuedJobs()
	if err != nil {
		return "", err
	}
	plates, err := c.st.GetPlates("")
	if err != nil {
		return "", err
	}
	windows, err := c.st.GetUnavailabilityWindows()
	if err != nil {
		return "", err
	}
	platesByID := make(map[string]models.Plate, len(plates))
	for _, p := range plates {
		platesByID[p.ID] = p
	}
	activeEnd, err := c.resolveActiveJobEnd(c.now().UTC(), platesByID)
	if err != nil {
		return "", err
	}
	return fingerprint(queued, plates, windows, activeEnd), nil
}

// resolveActiveJobEnd determines when the printer will next be free:
// a blocking unknown print's end time, then the printer's own reported
// end time, then the active job's started_at plus its plate's
// estimated duration, or nil if nothing is printing.
func (c *Coordinator) resolveActiveJobEnd(now time.Time, platesByID map[string]models.Plate) (*time.Time, error) {
	if c.printer != nil {
		if end := c.printer.GetBlockingEndTime(); end != nil {
			return end, nil
		}
		if end := c.printer.GetEndTime(); end != nil {
			return end, nil
		}
	}

	active, err := c.st.GetActiveJob()
	if err != nil {
		return nil, err
	}
	if active == nil || active.StartedAt == nil {
		return nil, nil
	}
	plate, ok := platesByID[active.PlateID]
	if !ok {
		return nil, nil
	}
	end := active.StartedAt.Add(time.Duration(plate.EstimatedDurationSeconds) * time.Second)
	return &end, nil
}

func fingerprint(jobs []models.Job, plates []models.Plate, windows []models.UnavailabilityWindow, activeEnd *time.Time) string {
	var b strings.Builder

	sortedJobs := append([]models.Job(nil), jobs...)
	sort.Slice(sortedJobs, func(i, j int) bool { return sortedJobs[i].ID < sortedJobs[j].ID })
	for _, j := range sortedJobs {
		fmt.Fprintf(&b, "job:%s:%s:%s;", j.ID, j.PlateID, j.Status)
	}

	sortedPlates := append([]models.Plate(nil), plates...)
	sort.Slice(sortedPlates, func(i, j int) bool { return sortedPlates[i].ID < sortedPlates[j].ID })
	for _, p := range sortedPlates {
		fmt.Fprintf(&b, "plate:%s:%d:%d:%d;", p.ID, p.Priority, p.EstimatedDurationSeconds, p.QuantityNeeded)
	}

	sortedWindows := append([]models.UnavailabilityWindow(nil), windows...)
	sort.Slice(sortedWindows, func(i, j int) bool { return sortedWindows[i].ID < sortedWindows[j].ID })
	for _, w := range sortedWindows {
		fmt.Fprintf(&b, "win:%s:%d:%d;", w.ID, w.Start.Unix(), w.End.Unix())
	}

	if activeEnd != nil {
		fmt.Fprintf(&b, "active_end:%d;", activeEnd.Unix())
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
