// Package service is the command façade between the external
// interfaces (HTTP API, CLI) and the store/coordinator pair: every
// mutation goes through here so the singleton-printing constraint and
// coordinator invalidation happen in exactly one place.
package service

import (
	"errors"
	"time"

	"github.com/psantana5/printassist/internal/coordinator"
	"github.com/psantana5/printassist/internal/logging"
	"github.com/psantana5/printassist/internal/models"
	"github.com/psantana5/printassist/internal/store"
)

// ErrAlreadyPrinting is returned by StartJob when another job is
// already in the printing state. Only the service layer enforces
// this; the store itself will happily start any queued job.
var ErrAlreadyPrinting = errors.New("another job is already printing")

// Service wires a Store to a Coordinator, invalidating the cached
// schedule after every mutation.
type Service struct {
	store       store.Store
	coordinator *coordinator.Coordinator
	log         *logging.Logger
}

func New(st store.Store, coord *coordinator.Coordinator, log *logging.Logger) *Service {
	return &Service{store: st, coordinator: coord, log: log}
}

func (s *Service) invalidate() {
	s.coordinator.Invalidate()
}

func (s *Service) CreateProject(name, notes string) (models.Project, error) {
	p, err := s.store.CreateProject(name, notes)
	if err != nil {
		return models.Project{}, err
	}
	s.log.Info("created project", map[string]interface{}{"project_id": p.ID, "name": p.Name})
	s.invalidate()
	return p, nil
}

func (s *Service) DeleteProject(id string) (bool, error) {
	ok, err := s.store.DeleteProject(id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("deleted project", map[string]interface{}{"project_id": id})
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) ListProjects() ([]models.Project, error) {
	return s.store.GetProjects()
}

// ProjectProgress couples a Project with its completion count, as
// exposed by the schedule query surface.
type ProjectProgress struct {
	models.Project
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

func (s *Service) ListProjectsWithProgress() ([]ProjectProgress, error) {
	projects, err := s.store.GetProjects()
	if err != nil {
		return nil, err
	}
	out := make([]ProjectProgress, len(projects))
	for i, p := range projects {
		completed, total, err := s.store.GetProjectProgress(p.ID)
		if err != nil {
			return nil, err
		}
		out[i] = ProjectProgress{Project: p, Completed: completed, Total: total}
	}
	return out, nil
}

func (s *Service) AddPlates(plates []models.Plate) ([]models.Plate, error) {
	added, err := s.store.AddPlates(plates)
	if err != nil {
		return nil, err
	}
	s.log.Info("added plates", map[string]interface{}{"count": len(added)})
	s.invalidate()
	return added, nil
}

func (s *Service) DeletePlate(id string) (bool, error) {
	ok, err := s.store.DeletePlate(id)
	if err != nil {
		return false, err
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) SetPlatePriority(id string, priority int) (bool, error) {
	ok, err := s.store.SetPlatePriority(id, priority)
	if err != nil {
		return false, err
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) SetPlateQuantity(id string, quantity int) (bool, error) {
	ok, err := s.store.SetPlateQuantity(id, quantity)
	if err != nil {
		return false, err
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) ListPlates(projectID string) ([]models.Plate, error) {
	return s.store.GetPlates(projectID)
}

// StartJob enforces the single-active-print constraint: the scheduler
// assumes the printer runs exactly one job at a time, so a start
// request is refused outright if anything is already printing,
// without calling the store's StartJob.
func (s *Service) StartJob(id string) (bool, error) {
	active, err := s.store.GetActiveJob()
	if err != nil {
		return false, err
	}
	if active != nil {
		s.log.Warn("refusing to start job: another job is printing", map[string]interface{}{
			"requested_job_id": id, "active_job_id": active.ID,
		})
		return false, ErrAlreadyPrinting
	}

	ok, err := s.store.StartJob(id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("started job", map[string]interface{}{"job_id": id})
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) CompleteJob(id string) (bool, error) {
	ok, err := s.store.CompleteJob(id)
	if err != nil {
		return false, err
	}
	if ok {
		s.log.Info("completed job", map[string]interface{}{"job_id": id})
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) FailJob(id, reason string) (*models.Job, error) {
	replacement, err := s.store.FailJob(id, reason)
	if err != nil {
		return nil, err
	}
	if replacement != nil {
		s.log.Info("failed job, queued replacement", map[string]interface{}{
			"job_id": id, "replacement_job_id": replacement.ID, "reason": reason,
		})
	}
	s.invalidate()
	return replacement, nil
}

func (s *Service) ListJobs() ([]models.Job, error) {
	return s.store.GetJobs()
}

func (s *Service) AddUnavailability(start, end time.Time) (models.UnavailabilityWindow, error) {
	w, err := s.store.AddUnavailability(start, end)
	if err != nil {
		return models.UnavailabilityWindow{}, err
	}
	s.log.Info("added unavailability window", map[string]interface{}{"window_id": w.ID})
	s.invalidate()
	return w, nil
}

func (s *Service) RemoveUnavailability(id string) (bool, error) {
	ok, err := s.store.RemoveUnavailability(id)
	if err != nil {
		return false, err
	}
	s.invalidate()
	return ok, nil
}

func (s *Service) ListUnavailabilityWindows() ([]models.UnavailabilityWindow, error) {
	return s.store.GetUnavailabilityWindows()
}

func (s *Service) Schedule() (models.ScheduleResult, error) {
	return s.coordinator.Schedule()
}
