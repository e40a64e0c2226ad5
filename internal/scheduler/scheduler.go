// Package scheduler implements the print queue's two-phase
// greedy-with-lookahead placement algorithm. BuildSchedule is a pure,
// deterministic function: given the same Input it always returns the
// same Result, with no I/O and no hidden clock reads.
package scheduler

import (
	"sort"
	"time"

	"github.com/psantana5/printassist/internal/models"
)

// LongUnavailabilityThreshold is the duration at or above which an upcoming
// unavailability window is treated as "long" (Case B): worth avoiding
// by placing any job that fits rather than starting one that would
// cross it.
const LongUnavailabilityThreshold = 3 * time.Hour

// ScheduleHorizon bounds how far into the future the projected timeline
// reaches. Jobs that would start at or after now+horizon are dropped.
const ScheduleHorizon = 7 * 24 * time.Hour

// Input is everything BuildSchedule needs to compute a schedule.
type Input struct {
	QueuedJobs    []models.Job
	PlatesByID    map[string]models.Plate
	Windows       []models.UnavailabilityWindow
	Now           time.Time
	ActiveJobEnd  *time.Time
}

type window struct {
	start, end time.Time
}

type candidate struct {
	job      models.Job
	plate    models.Plate
	duration time.Duration
}

// BuildSchedule walks a time cursor forward from max(now, activeJobEnd)
// placing queued jobs until the queue is empty or the horizon is hit.
func BuildSchedule(in Input) models.ScheduleResult {
	now := in.Now.UTC()

	startCursor := now
	if in.ActiveJobEnd != nil && in.ActiveJobEnd.UTC().After(startCursor) {
		startCursor = in.ActiveJobEnd.UTC()
	}

	windows := prepareWindows(in.Windows, now)
	horizon := now.Add(ScheduleHorizon)

	cursor := startCursor
	if w := windowContaining(windows, cursor); w != nil {
		cursor = w.end
	}

	remaining := buildCandidates(in.QueuedJobs, in.PlatesByID)

	var schedule []models.ScheduledJob

	for len(remaining) > 0 && cursor.Before(horizon) {
		next := nextWindowAfter(windows, cursor)

		if next != nil && !next.start.After(cursor) {
			cursor = next.end
			continue
		}

		var availableTime time.Duration
		var unavailDuration time.Duration
		if next != nil {
			availableTime = next.start.Sub(cursor)
			unavailDuration = next.end.Sub(next.start)
		} else {
			availableTime = time.Duration(1<<63 - 1) // effectively infinite
		}

		switch {
		case next != nil && unavailDuration >= LongUnavailabilityThreshold:
			// Case B: long unavailability ahead (e.g. overnight). Prefer
			// any fitting job over starting one that would cross the gap;
			// if nothing fits, place the first non-fitting job anyway and
			// let it span.
			if idx := firstFitting(remaining, availableTime); idx >= 0 {
				sj, newCursor := place(remaining[idx], cursor, false)
				schedule = append(schedule, sj)
				cursor = newCursor
				remaining = removeAt(remaining, idx)
			} else if idx := firstNonFitting(remaining, availableTime); idx >= 0 {
				sj, newCursor := place(remaining[idx], cursor, true)
				schedule = append(schedule, sj)
				cursor = newCursor
				remaining = removeAt(remaining, idx)
			} else {
				cursor = next.end
			}

		case next != nil:
			// Case C: short unavailability ahead. Cram the largest job
			// that still fits before the gap; if nothing fits, wait the
			// gap out like Case B's final fallback, never spanning.
			if idx := largestFitting(remaining, availableTime); idx >= 0 {
				sj, newCursor := place(remaining[idx], cursor, false)
				schedule = append(schedule, sj)
				cursor = newCursor
				remaining = removeAt(remaining, idx)
			} else {
				cursor = next.end
			}

		default:
			// Case A: no future window. Place everything back-to-back,
			// dropping whatever would start at or past the horizon.
			for _, c := range remaining {
				if !cursor.Before(horizon) {
					break
				}
				sj, newCursor := place(c, cursor, false)
				schedule = append(schedule, sj)
				cursor = newCursor
			}
			remaining = nil
		}
	}

	result := models.ScheduleResult{
		Jobs:                schedule,
		ComputedAt:          now,
		CursorAtComputation: startCursor,
	}
	result.NextBreakpoint = computeBreakpoint(schedule, windows, startCursor, now)
	return result
}

// prepareWindows clips each window's start to now, discards windows that
// have already ended, and sorts the remainder by start time ascending.
func prepareWindows(in []models.UnavailabilityWindow, now time.Time) []window {
	out := make([]window, 0, len(in))
	for _, w := range in {
		start := w.Start.UTC()
		end := w.End.UTC()
		if !end.After(now) {
			continue
		}
		if start.Before(now) {
			start = now
		}
		out = append(out, window{start: start, end: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// windowContaining returns the window covering t, if any.
func windowContaining(windows []window, t time.Time) *window {
	for i := range windows {
		if !windows[i].start.After(t) && t.Before(windows[i].end) {
			return &windows[i]
		}
	}
	return nil
}

// nextWindowAfter returns the first window whose start is strictly after
// cursor, or (if cursor falls inside one) that window itself.
func nextWindowAfter(windows []window, cursor time.Time) *window {
	for i := range windows {
		if windows[i].start.After(cursor) {
			return &windows[i]
		}
		if !windows[i].start.After(cursor) && cursor.Before(windows[i].end) {
			return &windows[i]
		}
	}
	return nil
}

// buildCandidates pairs each queued job with its plate (dropping jobs
// whose plate has vanished) and orders them by (-priority, -duration),
// breaking ties by job creation time for determinism.
func buildCandidates(jobs []models.Job, plates map[string]models.Plate) []candidate {
	out := make([]candidate, 0, len(jobs))
	for _, j := range jobs {
		plate, ok := plates[j.PlateID]
		if !ok {
			continue
		}
		out = append(out, candidate{
			job:      j,
			plate:    plate,
			duration: time.Duration(plate.EstimatedDurationSeconds) * time.Second,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].plate.Priority, out[j].plate.Priority
		if pi != pj {
			return pi > pj
		}
		if out[i].duration != out[j].duration {
			return out[i].duration > out[j].duration
		}
		return out[i].job.CreatedAt.Before(out[j].job.CreatedAt)
	})
	return out
}

// A candidate fits if its duration is at most the available time
// (duration <= available_time); an exact match fits with room to
// spare down to the instant the window opens.
func firstFitting(cands []candidate, available time.Duration) int {
	for i, c := range cands {
		if c.duration <= available {
			return i
		}
	}
	return -1
}

func firstNonFitting(cands []candidate, available time.Duration) int {
	for i, c := range cands {
		if c.duration > available {
			return i
		}
	}
	return -1
}

// largestFitting returns the index, within the original priority order,
// of the longest candidate that still fits in available time.
func largestFitting(cands []candidate, available time.Duration) int {
	best := -1
	for i, c := range cands {
		if c.duration > available {
			continue
		}
		if best == -1 || cands[i].duration > cands[best].duration {
			best = i
		}
	}
	return best
}

func removeAt(cands []candidate, idx int) []candidate {
	out := make([]candidate, 0, len(cands)-1)
	out = append(out, cands[:idx]...)
	out = append(out, cands[idx+1:]...)
	return out
}

func place(c candidate, cursor time.Time, spans bool) (models.ScheduledJob, time.Time) {
	end := cursor.Add(c.duration)
	sj := models.ScheduledJob{
		JobID:                    c.job.ID,
		PlateID:                  c.plate.ID,
		PlateName:                c.plate.Name,
		PlateNumber:              c.plate.PlateNumber,
		SourceFilename:           c.plate.SourceFilename,
		ScheduledStart:           cursor,
		ScheduledEnd:             end,
		EstimatedDurationSeconds: c.plate.EstimatedDurationSeconds,
		SpansUnavailability:      spans,
		ThumbnailHandle:          c.plate.ThumbnailHandle,
	}
	return sj, end
}

// computeBreakpoint finds the earliest future instant at which the
// cached schedule could legitimately change even without input changes.
func computeBreakpoint(schedule []models.ScheduledJob, windows []window, originalCursor, now time.Time) *time.Time {
	if len(schedule) == 0 {
		return nil
	}

	next := nextWindowAfter(windows, originalCursor)
	if next == nil {
		return nil
	}

	first := schedule[0]
	if first.ScheduledEnd.Before(next.start) || first.ScheduledEnd.Equal(next.start) {
		bp := next.start.Add(-time.Duration(first.EstimatedDurationSeconds) * time.Second)
		if bp.After(now) {
			return &bp
		}
	}

	return &next.start
}
