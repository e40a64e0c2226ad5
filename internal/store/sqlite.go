package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/printassist/internal/models"
)

// SQLiteStore is the SQLite-backed implementation of Store. Writes are
// serialised at the connection-pool level (single open connection) and
// additionally by an in-process mutex that every mutating method holds.
// Multi-statement mutations run in one transaction, so a read never
// observes a half-applied cascade (e.g. plates deleted but jobs not yet
// deleted). Reads do not take the mutex.
type SQLiteStore struct {
	db    *sql.DB
	mu    sync.Mutex
	clean FileCleaner
}

// Option configures a SQLiteStore at construction time.
type Option func(*SQLiteStore)

// WithFileCleaner wires a FileCleaner that reclaims gcode/thumbnail
// files when plates are removed. Defaults to NoopFileCleaner.
func WithFileCleaner(c FileCleaner) Option {
	return func(s *SQLiteStore) { s.clean = c }
}

// Open creates (or reuses) a SQLite database at path and ensures its
// schema exists. path may be ":memory:" for tests.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db, clean: NoopFileCleaner{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		notes      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plates (
		id                          TEXT PRIMARY KEY,
		project_id                  TEXT NOT NULL REFERENCES projects(id),
		source_filename             TEXT NOT NULL,
		plate_number                INTEGER NOT NULL,
		name                        TEXT NOT NULL,
		gcode_handle                TEXT NOT NULL DEFAULT '',
		estimated_duration_seconds  INTEGER NOT NULL,
		thumbnail_handle            TEXT NOT NULL DEFAULT '',
		quantity_needed             INTEGER NOT NULL DEFAULT 1,
		priority                    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_plates_project ON plates(project_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id             TEXT PRIMARY KEY,
		plate_id       TEXT NOT NULL REFERENCES plates(id),
		status         TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		started_at     TEXT,
		ended_at       TEXT,
		failure_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_plate ON jobs(plate_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

	CREATE TABLE IF NOT EXISTS unavailability_windows (
		id        TEXT PRIMARY KEY,
		starts_at TEXT NOT NULL,
		ends_at   TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---- projects ----

func (s *SQLiteStore) CreateProject(name, notes string) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := models.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO projects (id, name, notes, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Notes, p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.Project{}, err
	}
	return p, nil
}

func (s *SQLiteStore) DeleteProject(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	plateRows, err := tx.Query(`SELECT id, gcode_handle, thumbnail_handle FROM plates WHERE project_id = ?`, id)
	if err != nil {
		return false, err
	}
	type handles struct{ gcode, thumb string }
	removed := map[string]handles{}
	for plateRows.Next() {
		var pid, gcode, thumb string
		if err := plateRows.Scan(&pid, &gcode, &thumb); err != nil {
			plateRows.Close()
			return false, err
		}
		removed[pid] = handles{gcode, thumb}
	}
	plateRows.Close()

	if _, err := tx.Exec(`DELETE FROM jobs WHERE plate_id IN (SELECT id FROM plates WHERE project_id = ?)`, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM plates WHERE project_id = ?`, id); err != nil {
		return false, err
	}
	res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	for _, h := range removed {
		s.reclaim(h.gcode, h.thumb)
	}
	return true, nil
}

func (s *SQLiteStore) reclaim(gcode, thumb string) {
	if gcode != "" {
		s.clean.Remove(gcode)
	}
	if thumb != "" {
		s.clean.Remove(thumb)
	}
}

func (s *SQLiteStore) GetProjects() ([]models.Project, error) {
	rows, err := s.db.Query(`SELECT id, name, notes, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProject(id string) (models.Project, error) {
	row := s.db.QueryRow(`SELECT id, name, notes, created_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return models.Project{}, ErrProjectNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (models.Project, error) {
	var p models.Project
	var createdAt string
	if err := r.Scan(&p.ID, &p.Name, &p.Notes, &createdAt); err != nil {
		return models.Project{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.Project{}, err
	}
	p.CreatedAt = t
	return p, nil
}

// ---- plates ----

func (s *SQLiteStore) AddPlates(plates []models.Plate) ([]models.Plate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]models.Plate, len(plates))
	for i, p := range plates {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.QuantityNeeded <= 0 {
			p.QuantityNeeded = 1
		}
		_, err := tx.Exec(`
			INSERT INTO plates (id, project_id, source_filename, plate_number, name, gcode_handle,
				estimated_duration_seconds, thumbnail_handle, quantity_needed, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ProjectID, p.SourceFilename, p.PlateNumber, p.Name, p.GcodeHandle,
			p.EstimatedDurationSeconds, p.ThumbnailHandle, p.QuantityNeeded, p.Priority,
		)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for n := 0; n < p.QuantityNeeded; n++ {
			if _, err := tx.Exec(
				`INSERT INTO jobs (id, plate_id, status, created_at) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), p.ID, models.JobStatusQueued, now,
			); err != nil {
				return nil, err
			}
		}
		out[i] = p
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) DeletePlate(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var gcode, thumb string
	err = tx.QueryRow(`SELECT gcode_handle, thumbnail_handle FROM plates WHERE id = ?`, id).Scan(&gcode, &thumb)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(`DELETE FROM jobs WHERE plate_id = ?`, id); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`DELETE FROM plates WHERE id = ?`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	s.reclaim(gcode, thumb)
	return true, nil
}

func (s *SQLiteStore) SetPlatePriority(id string, priority int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE plates SET priority = ? WHERE id = ?`, priority, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetPlateQuantity reconciles the plate's queued job count to match the
// new target quantity, net of jobs already completed. Excess queued
// jobs are dropped (oldest first, matching insertion order); a
// shortfall is backfilled with freshly queued jobs.
func (s *SQLiteStore) SetPlateQuantity(id string, quantity int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM plates WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var queued, completed int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE plate_id = ? AND status = ?`, id, models.JobStatusQueued,
	).Scan(&queued); err != nil {
		return false, err
	}
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM jobs WHERE plate_id = ? AND status = ?`, id, models.JobStatusCompleted,
	).Scan(&completed); err != nil {
		return false, err
	}

	neededQueued := quantity - completed
	if neededQueued < 0 {
		neededQueued = 0
	}
	delta := neededQueued - queued

	switch {
	case delta > 0:
		now := time.Now().UTC().Format(time.RFC3339Nano)
		for i := 0; i < delta; i++ {
			if _, err := tx.Exec(
				`INSERT INTO jobs (id, plate_id, status, created_at) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), id, models.JobStatusQueued, now,
			); err != nil {
				return false, err
			}
		}
	case delta < 0:
		rows, err := tx.Query(
			`SELECT id FROM jobs WHERE plate_id = ? AND status = ? ORDER BY created_at LIMIT ?`,
			id, models.JobStatusQueued, -delta,
		)
		if err != nil {
			return false, err
		}
		var ids []string
		for rows.Next() {
			var jid string
			if err := rows.Scan(&jid); err != nil {
				rows.Close()
				return false, err
			}
			ids = append(ids, jid)
		}
		rows.Close()
		for _, jid := range ids {
			if _, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, jid); err != nil {
				return false, err
			}
		}
	}

	if _, err := tx.Exec(`UPDATE plates SET quantity_needed = ? WHERE id = ?`, quantity, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) GetPlates(projectID string) ([]models.Plate, error) {
	var rows *sql.Rows
	var err error
	if projectID != "" {
		rows, err = s.db.Query(plateSelect+` WHERE project_id = ?`, projectID)
	} else {
		rows, err = s.db.Query(plateSelect)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Plate
	for rows.Next() {
		p, err := scanPlate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPlate(id string) (models.Plate, error) {
	row := s.db.QueryRow(plateSelect+` WHERE id = ?`, id)
	p, err := scanPlate(row)
	if err == sql.ErrNoRows {
		return models.Plate{}, ErrPlateNotFound
	}
	return p, err
}

const plateSelect = `SELECT id, project_id, source_filename, plate_number, name, gcode_handle,
	estimated_duration_seconds, thumbnail_handle, quantity_needed, priority FROM plates`

func scanPlate(r rowScanner) (models.Plate, error) {
	var p models.Plate
	err := r.Scan(&p.ID, &p.ProjectID, &p.SourceFilename, &p.PlateNumber, &p.Name, &p.GcodeHandle,
		&p.EstimatedDurationSeconds, &p.ThumbnailHandle, &p.QuantityNeeded, &p.Priority)
	return p, err
}

// ---- jobs ----

const jobSelect = `SELECT id, plate_id, status, created_at, started_at, ended_at, failure_reason FROM jobs`

func scanJob(r rowScanner) (models.Job, error) {
	var j models.Job
	var status, createdAt string
	var startedAt, endedAt sql.NullString
	if err := r.Scan(&j.ID, &j.PlateID, &status, &createdAt, &startedAt, &endedAt, &j.FailureReason); err != nil {
		return models.Job{}, err
	}
	j.Status = models.JobStatus(status)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return models.Job{}, err
	}
	j.CreatedAt = t
	if startedAt.Valid {
		st, err := time.Parse(time.RFC3339Nano, startedAt.String)
		if err != nil {
			return models.Job{}, err
		}
		j.StartedAt = &st
	}
	if endedAt.Valid {
		et, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return models.Job{}, err
		}
		j.EndedAt = &et
	}
	return j, nil
}

func (s *SQLiteStore) queryJobs(query string, args ...any) ([]models.Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetJobs() ([]models.Job, error) {
	return s.queryJobs(jobSelect + ` ORDER BY created_at`)
}

func (s *SQLiteStore) GetJob(id string) (models.Job, error) {
	row := s.db.QueryRow(jobSelect+` WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return models.Job{}, ErrJobNotFound
	}
	return j, err
}

func (s *SQLiteStore) GetQueuedJobs() ([]models.Job, error) {
	return s.queryJobs(jobSelect+` WHERE status = ? ORDER BY created_at`, models.JobStatusQueued)
}

func (s *SQLiteStore) GetActiveJob() (*models.Job, error) {
	jobs, err := s.queryJobs(jobSelect+` WHERE status = ? LIMIT 1`, models.JobStatusPrinting)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *SQLiteStore) StartJob(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusPrinting, now, id, models.JobStatusQueued,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) CompleteJob(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusCompleted, now, id, models.JobStatusPrinting,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FailJob marks the printing job failed and atomically queues a
// replacement job against the same plate, so a failed print doesn't
// silently shrink the plate's remaining quantity.
func (s *SQLiteStore) FailJob(id string, reason string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var plateID string
	err = tx.QueryRow(`SELECT plate_id FROM jobs WHERE id = ? AND status = ?`, id, models.JobStatusPrinting).Scan(&plateID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	if _, err := tx.Exec(
		`UPDATE jobs SET status = ?, ended_at = ?, failure_reason = ? WHERE id = ?`,
		models.JobStatusFailed, nowStr, reason, id,
	); err != nil {
		return nil, err
	}

	replacement := models.Job{
		ID:        uuid.NewString(),
		PlateID:   plateID,
		Status:    models.JobStatusQueued,
		CreatedAt: now,
	}
	if _, err := tx.Exec(
		`INSERT INTO jobs (id, plate_id, status, created_at) VALUES (?, ?, ?, ?)`,
		replacement.ID, replacement.PlateID, replacement.Status, nowStr,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &replacement, nil
}

func (s *SQLiteStore) GetProjectProgress(projectID string) (int, int, error) {
	var completed, total int
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM jobs j JOIN plates p ON p.id = j.plate_id
				WHERE p.project_id = ? AND j.status = ?),
			(SELECT COALESCE(SUM(quantity_needed), 0) FROM plates WHERE project_id = ?)
	`, projectID, models.JobStatusCompleted, projectID).Scan(&completed, &total)
	return completed, total, err
}

// ---- unavailability windows ----

func (s *SQLiteStore) AddUnavailability(start, end time.Time) (models.UnavailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := models.UnavailabilityWindow{ID: uuid.NewString(), Start: start.UTC(), End: end.UTC()}
	_, err := s.db.Exec(
		`INSERT INTO unavailability_windows (id, starts_at, ends_at) VALUES (?, ?, ?)`,
		w.ID, w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.UnavailabilityWindow{}, err
	}
	return w, nil
}

func (s *SQLiteStore) RemoveUnavailability(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM unavailability_windows WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) GetUnavailabilityWindows() ([]models.UnavailabilityWindow, error) {
	rows, err := s.db.Query(`SELECT id, starts_at, ends_at FROM unavailability_windows ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UnavailabilityWindow
	for rows.Next() {
		var w models.UnavailabilityWindow
		var start, end string
		if err := rows.Scan(&w.ID, &start, &end); err != nil {
			return nil, err
		}
		st, err := time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return nil, err
		}
		et, err := time.Parse(time.RFC3339Nano, end)
		if err != nil {
			return nil, err
		}
		w.Start, w.End = st, et
		out = append(out, w)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
