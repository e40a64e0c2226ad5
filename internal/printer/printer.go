// Package printer adapts a networked printer's exposed telemetry into
// the job-lifecycle transitions the print queue cares about: a print
// starting, a print finishing, and an unmatched print blocking the
// scheduler until it's done.
package printer

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/retry"
	"github.com/psantana5/printassist/internal/store"
)

// Status mirrors the printer's own status vocabulary. Values are
// compared verbatim against whatever the EntityRegistry reports.
const (
	StatusRunning = "running"
	StatusFinish  = "finish"
	StatusIdle    = "idle"
)

// Suffixes identify which of a device's exposed entities carries which
// piece of telemetry. A real deployment's entity IDs end in these.
const (
	SuffixStatus    = "_print_status"
	SuffixEndTime   = "_remaining_time_end"
	SuffixTaskName  = "_task_name"
	SuffixGcodeFile = "_gcode_file"
)

const unavailableValue = "unavailable"
const unknownValue = "unknown"

// unknownPrintFallback is how long a blocking "unknown print" is
// assumed to still take when the printer exposes no end-time entity.
const unknownPrintFallback = time.Hour

// EntityRegistry is the narrow read interface the adapter needs onto
// whatever telemetry bus the printer's entities are actually wired
// through (MQTT topic tree, REST poll cache, Home-Assistant-style
// entity registry, ...). Resolving and reading entities is the only
// seam this package owns; the transport behind it is out of scope.
type EntityRegistry interface {
	// ResolveByDeviceSuffix returns the entity id for the device's
	// entity whose id ends in suffix, if one is registered.
	ResolveByDeviceSuffix(deviceID, suffix string) (entityID string, ok bool)
	// GetState returns the entity's current state string. ok is false
	// if the entity doesn't exist; the state itself may still be
	// "unknown" or "unavailable".
	GetState(entityID string) (value string, ok bool)
}

// Clock abstracts time.Now so unknown-print fallback timing is
// deterministic under test.
type Clock func() time.Time

// Adapter tracks one printer's status entity and translates its
// transitions into store mutations, notifying the coordinator via
// onScheduleChange whenever something the schedule depends on changed.
type Adapter struct {
	deviceID         string
	registry         EntityRegistry
	st               store.Store
	log              *logging.Logger
	now              Clock
	onScheduleChange func()

	statusEntity   string
	endTimeEntity  string
	taskNameEntity string
	gcodeEntity    string

	lastStatus        string
	unknownDetectedAt *time.Time
	unknownTaskName   string
}

// New constructs an Adapter. onScheduleChange is invoked synchronously,
// on the goroutine that called HandleStatusChange or Setup, whenever a
// transition could change the schedule.
func New(deviceID string, registry EntityRegistry, st store.Store, log *logging.Logger, onScheduleChange func()) *Adapter {
	return &Adapter{
		deviceID:         deviceID,
		registry:         registry,
		st:               st,
		log:              log,
		now:              time.Now,
		onScheduleChange: onScheduleChange,
	}
}

// Setup resolves this device's entities with retries (the registry may
// not have populated them yet for a just-added device) and primes the
// adapter's last-known status, firing the started-handler if the
// printer is already mid-print at startup.
func (a *Adapter) Setup(ctx context.Context) error {
	err := retry.Do(ctx, retry.DefaultConfig(), a.log, func() error {
		return a.resolveEntities()
	})
	if err != nil {
		return err
	}

	state, ok := a.registry.GetState(a.statusEntity)
	if !ok {
		a.log.Warn("printer status entity not found", map[string]interface{}{"entity": a.statusEntity})
		return errEntityNotFound{entity: a.statusEntity}
	}
	a.lastStatus = state
	a.log.Info("printer adapter initialized", map[string]interface{}{"status": a.lastStatus})

	if a.lastStatus == StatusRunning {
		a.handlePrintStarted()
	}
	return nil
}

type errEntityNotFound struct{ entity string }

func (e errEntityNotFound) Error() string { return "entity not found: " + e.entity }

func (a *Adapter) resolveEntities() error {
	if id, ok := a.registry.ResolveByDeviceSuffix(a.deviceID, SuffixStatus); ok {
		a.statusEntity = id
	}
	if id, ok := a.registry.ResolveByDeviceSuffix(a.deviceID, SuffixEndTime); ok {
		a.endTimeEntity = id
	}
	if id, ok := a.registry.ResolveByDeviceSuffix(a.deviceID, SuffixTaskName); ok {
		a.taskNameEntity = id
	}
	if id, ok := a.registry.ResolveByDeviceSuffix(a.deviceID, SuffixGcodeFile); ok {
		a.gcodeEntity = id
	}
	if a.statusEntity == "" {
		return errEntityNotFound{entity: a.deviceID + SuffixStatus}
	}
	return nil
}

// HandleStatusChange is the event hook: call it whenever the printer's
// status entity reports a new value. Transitions where old == new are
// ignored, matching how state-change events are filtered upstream.
func (a *Adapter) HandleStatusChange(oldStatus, newStatus string) {
	if oldStatus == newStatus {
		return
	}
	a.lastStatus = newStatus

	switch {
	case newStatus == StatusRunning:
		a.handlePrintStarted()
	case oldStatus == StatusRunning && (newStatus == StatusFinish || newStatus == StatusIdle):
		a.handlePrintCompleted()
	}
}

func (a *Adapter) handlePrintStarted() {
	taskName := a.taskName()
	if taskName == "" {
		a.log.Debug("print started but no task name available")
		return
	}

	active, err := a.st.GetActiveJob()
	if err != nil {
		a.log.Error("failed to check active job", map[string]interface{}{"error": err.Error()})
		return
	}
	if active != nil {
		a.log.Debug("print already tracked as active", map[string]interface{}{"job_id": active.ID})
		return
	}

	job, err := a.matchJobToTask(taskName)
	if err != nil {
		a.log.Error("failed to match job to task", map[string]interface{}{"error": err.Error()})
		return
	}

	if job != nil {
		if _, err := a.st.StartJob(job.ID); err != nil {
			a.log.Error("failed to start matched job", map[string]interface{}{"error": err.Error()})
			return
		}
		a.unknownDetectedAt = nil
		a.unknownTaskName = ""
		a.log.Info("auto-started job for task", map[string]interface{}{"job_id": job.ID, "task": taskName})
	} else {
		now := a.now().UTC()
		a.unknownDetectedAt = &now
		a.unknownTaskName = taskName
		a.log.Info("unknown print detected, blocking scheduler", map[string]interface{}{"task": taskName})
	}

	a.onScheduleChange()
}

func (a *Adapter) handlePrintCompleted() {
	if a.unknownDetectedAt != nil {
		a.log.Info("unknown print completed", map[string]interface{}{"task": a.unknownTaskName})
		a.unknownDetectedAt = nil
		a.unknownTaskName = ""
		a.onScheduleChange()
		return
	}

	active, err := a.st.GetActiveJob()
	if err != nil {
		a.log.Error("failed to check active job", map[string]interface{}{"error": err.Error()})
		return
	}
	if active == nil {
		a.log.Debug("print completed but no active job tracked")
		return
	}

	if _, err := a.st.CompleteJob(active.ID); err != nil {
		a.log.Error("failed to complete job", map[string]interface{}{"error": err.Error()})
		return
	}
	a.log.Info("auto-completed job", map[string]interface{}{"job_id": active.ID})
	a.onScheduleChange()
}

func (a *Adapter) taskName() string {
	for _, entity := range []string{a.taskNameEntity, a.gcodeEntity} {
		if entity == "" {
			continue
		}
		if state, ok := a.registry.GetState(entity); ok && state != unknownValue && state != unavailableValue && state != "" {
			return state
		}
	}
	return ""
}

// matchJobToTask applies three fuzzy rules, in order, against every
// queued job's plate source filename: the source filename appears
// verbatim in the task name; the source filename's stem appears in
// the task name; or the source stem appears in the task name's stem, or
// the task name's stem appears in the source filename. All comparisons
// are case-insensitive.
func (a *Adapter) matchJobToTask(taskName string) (*models.Job, error) {
	taskLower := strings.ToLower(taskName)
	taskStem := strings.ToLower(stem(taskName))

	queued, err := a.st.GetQueuedJobs()
	if err != nil {
		return nil, err
	}

	for _, job := range queued {
		plate, err := a.st.GetPlate(job.PlateID)
		if err != nil {
			continue
		}
		sourceLower := strings.ToLower(plate.SourceFilename)
		if strings.Contains(taskLower, sourceLower) {
			j := job
			return &j, nil
		}

		sourceStem := strings.ToLower(stem(plate.SourceFilename))
		if strings.Contains(taskLower, sourceStem) {
			j := job
			return &j, nil
		}
		if strings.Contains(taskStem, sourceStem) || strings.Contains(sourceLower, taskStem) {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

func stem(filename string) string {
	base := path.Base(filename)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// GetEndTime returns the printer's reported end-of-print time, or nil
// if the entity is absent, unset, or unparseable.
func (a *Adapter) GetEndTime() *time.Time {
	if a.endTimeEntity == "" {
		return nil
	}
	state, ok := a.registry.GetState(a.endTimeEntity)
	if !ok || state == unknownValue || state == unavailableValue || state == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, state)
	if err != nil {
		a.log.Debug("invalid end_time format", map[string]interface{}{"value": state})
		return nil
	}
	t = t.UTC()
	return &t
}

// IsPrinting reports whether the last observed status was "running".
func (a *Adapter) IsPrinting() bool {
	return a.lastStatus == StatusRunning
}

// GetBlockingEndTime returns the estimated time an unmatched print
// will finish, if one is currently blocking the scheduler. Falls back
// to one hour past detection when the printer reports no end time.
func (a *Adapter) GetBlockingEndTime() *time.Time {
	if a.unknownDetectedAt == nil {
		return nil
	}
	if end := a.GetEndTime(); end != nil {
		return end
	}
	fallback := a.unknownDetectedAt.Add(unknownPrintFallback)
	return &fallback
}
