package printer

import (
	"context"
	"testing"
	"time"

	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/store"
)

// fakeRegistry is an in-memory EntityRegistry standing in for the
// telemetry bus a real printer's entities are published on.
type fakeRegistry struct {
	entities map[string]string // deviceID+suffix -> entityID
	states   map[string]string // entityID -> state
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{entities: map[string]string{}, states: map[string]string{}}
}

func (f *fakeRegistry) register(deviceID, suffix, entityID, state string) {
	f.entities[deviceID+suffix] = entityID
	f.states[entityID] = state
}

func (f *fakeRegistry) ResolveByDeviceSuffix(deviceID, suffix string) (string, bool) {
	id, ok := f.entities[deviceID+suffix]
	return id, ok
}

func (f *fakeRegistry) GetState(entityID string) (string, bool) {
	v, ok := f.states[entityID]
	return v, ok
}

func (f *fakeRegistry) setState(entityID, state string) {
	f.states[entityID] = state
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.FATAL, false)
}

func newTestAdapter(t *testing.T, reg *fakeRegistry) (*Adapter, store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a := New("bambu_x1", reg, st, testLogger(), func() {})
	return a, st
}

func TestSetupPrimesStatusAndStartsAlreadyRunningPrint(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusRunning)
	reg.register("bambu_x1", SuffixTaskName, "sensor.bambu_x1_task_name", "benchy.gcode.3mf")

	a, st := newTestAdapter(t, reg)

	proj, _ := st.CreateProject("p", "")
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, SourceFilename: "benchy.3mf", QuantityNeeded: 1}})

	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	active, err := st.GetActiveJob()
	if err != nil {
		t.Fatalf("GetActiveJob: %v", err)
	}
	if active == nil {
		t.Fatalf("expected the matched job to be auto-started")
	}
}

func TestHandleStatusChangeIgnoresNoOpTransition(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusIdle)
	a, _ := newTestAdapter(t, reg)
	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	a.HandleStatusChange(StatusIdle, StatusIdle)
	if a.IsPrinting() {
		t.Errorf("no-op transition must not change printing state")
	}
}

func TestMatchJobToTaskFuzzyRules(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusIdle)
	a, st := newTestAdapter(t, reg)
	proj, _ := st.CreateProject("p", "")
	st.AddPlates([]models.Plate{{ProjectID: proj.ID, SourceFilename: "articulated_dragon.3mf", QuantityNeeded: 1}})

	job, err := a.matchJobToTask("Plate_1_articulated_dragon.gcode.3mf")
	if err != nil {
		t.Fatalf("matchJobToTask: %v", err)
	}
	if job == nil {
		t.Fatalf("expected a fuzzy match on shared stem")
	}
}

func TestHandlePrintStartedBlocksOnUnknownPrint(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusIdle)
	reg.register("bambu_x1", SuffixTaskName, "sensor.bambu_x1_task_name", "some_unrelated_model.3mf")
	var notified int
	a, _ := newTestAdapter(t, reg)
	a.onScheduleChange = func() { notified++ }

	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	a.HandleStatusChange(StatusIdle, StatusRunning)

	if a.unknownDetectedAt == nil {
		t.Fatalf("expected unknown print to be tracked")
	}
	if notified == 0 {
		t.Errorf("expected onScheduleChange to fire")
	}

	blocking := a.GetBlockingEndTime()
	if blocking == nil {
		t.Fatalf("expected a fallback blocking end time")
	}
	want := a.unknownDetectedAt.Add(unknownPrintFallback)
	if !blocking.Equal(want) {
		t.Errorf("blocking end time = %v, want %v", blocking, want)
	}
}

func TestGetEndTimeParsesRFC3339(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusIdle)
	reg.register("bambu_x1", SuffixEndTime, "sensor.bambu_x1_remaining_time_end", "2026-07-30T21:00:00Z")
	a, _ := newTestAdapter(t, reg)
	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	end := a.GetEndTime()
	if end == nil {
		t.Fatalf("expected a parsed end time")
	}
	want, _ := time.Parse(time.RFC3339, "2026-07-30T21:00:00Z")
	if !end.Equal(want) {
		t.Errorf("GetEndTime() = %v, want %v", end, want)
	}
}

func TestGetEndTimeHandlesUnavailableState(t *testing.T) {
	reg := newFakeRegistry()
	reg.register("bambu_x1", SuffixStatus, "sensor.bambu_x1_print_status", StatusIdle)
	reg.register("bambu_x1", SuffixEndTime, "sensor.bambu_x1_remaining_time_end", "unavailable")
	a, _ := newTestAdapter(t, reg)
	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if end := a.GetEndTime(); end != nil {
		t.Errorf("expected nil end time for unavailable state, got %v", end)
	}
}
