package coordinator

import (
	"testing"
	"time"

	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/store"
)

type fakePrinterStatus struct {
	blocking *time.Time
	end      *time.Time
}

func (f fakePrinterStatus) GetBlockingEndTime() *time.Time { return f.blocking }
func (f fakePrinterStatus) GetEndTime() *time.Time         { return f.end }

func newTestCoordinator(t *testing.T) (*Coordinator, store.Store, *time.Time) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := mustParseCoord(t, "2026-07-30T12:00:00Z")
	c := New(st, nil, logging.NewLogger(logging.FATAL, false))
	c.now = func() time.Time { return clock }
	return c, st, &clock
}

func TestScheduleComputesOnFirstCall(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	proj, _ := st.CreateProject("p", "")
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, Name: "benchy", EstimatedDurationSeconds: 3600, QuantityNeeded: 1}})

	result, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("expected 1 scheduled job, got %d", len(result.Jobs))
	}
}

func TestScheduleIsMemoizedUntilInputsChange(t *testing.T) {
	c, st, _ := newTestCoordinator(t)
	proj, _ := st.CreateProject("p", "")
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, EstimatedDurationSeconds: 3600, QuantityNeeded: 1}})

	first, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Calling again with no store changes must return the exact same
	// cached computation (same ComputedAt), not a fresh one.
	second, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Errorf("expected memoized result, got a recomputation")
	}

	// Adding a plate changes the fingerprint and forces a recompute.
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, EstimatedDurationSeconds: 1800, QuantityNeeded: 1}})
	third, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(third.Jobs) != 2 {
		t.Fatalf("expected recompute to pick up the new plate, got %d jobs", len(third.Jobs))
	}
}

func TestScheduleRecomputesPastBreakpointEvenWithoutInputChanges(t *testing.T) {
	c, st, clock := newTestCoordinator(t)
	proj, _ := st.CreateProject("p", "")
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, EstimatedDurationSeconds: 3600, QuantityNeeded: 1}})
	st.AddUnavailability((*clock).Add(2*time.Hour), (*clock).Add(6*time.Hour))

	first, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if first.NextBreakpoint == nil {
		t.Fatalf("expected a breakpoint to be computed given the upcoming window")
	}

	// Advance the clock past the breakpoint with no store mutation.
	*clock = first.NextBreakpoint.Add(time.Minute)
	second, err := c.Schedule()
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !second.ComputedAt.After(first.ComputedAt) {
		t.Errorf("expected a recompute once now passed the cached breakpoint")
	}
}

func TestResolveActiveJobEndPrefersPrinterBlockingTime(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blocking := mustParseCoord(t, "2026-07-30T15:00:00Z")
	c := New(st, fakePrinterStatus{blocking: &blocking}, logging.NewLogger(logging.FATAL, false))

	end, err := c.resolveActiveJobEnd(time.Now(), map[string]models.Plate{})
	if err != nil {
		t.Fatalf("resolveActiveJobEnd: %v", err)
	}
	if end == nil || !end.Equal(blocking) {
		t.Errorf("resolveActiveJobEnd = %v, want %v", end, blocking)
	}
}

func TestResolveActiveJobEndFallsBackToStartedAtPlusDuration(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	c := New(st, nil, logging.NewLogger(logging.FATAL, false))
	proj, _ := st.CreateProject("p", "")
	plates, _ := st.AddPlates([]models.Plate{{ProjectID: proj.ID, EstimatedDurationSeconds: 1800, QuantityNeeded: 1}})
	queued, _ := st.GetQueuedJobs()
	st.StartJob(queued[0].ID)

	active, _ := st.GetActiveJob()
	end, err := c.resolveActiveJobEnd(time.Now(), map[string]models.Plate{plates[0].ID: plates[0]})
	if err != nil {
		t.Fatalf("resolveActiveJobEnd: %v", err)
	}
	want := active.StartedAt.Add(30 * time.Minute)
	if end == nil || !end.Equal(want) {
		t.Errorf("resolveActiveJobEnd = %v, want %v", end, want)
	}
}

func mustParseCoord(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}
