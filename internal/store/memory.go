package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aperture-photos/aperture/internal/media"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. Safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	tickets    map[string]media.UploadTicket
	jobs       map[string]*jobRow // keyed by ticket id
	records    map[uuid.UUID]*media.Record
	categories map[string]media.Category

	CreateJobErr    error
	CreateRecordErr error
}

type jobRow struct {
	job    media.ProcessingJob
	status media.JobStatus
	reason string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:    make(map[string]media.UploadTicket),
		jobs:       make(map[string]*jobRow),
		records:    make(map[uuid.UUID]*media.Record),
		categories: make(map[string]media.Category),
	}
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateTicket(ctx context.Context, t media.UploadTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[t.TicketID]; exists {
		return ErrAlreadyExists
	}
	s.tickets[t.TicketID] = t
	return nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, ticketID string) (media.UploadTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tickets[ticketID]
	if !exists {
		return media.UploadTicket{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) ConsumeTicket(ctx context.Context, ticketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tickets[ticketID]
	if !exists {
		return false, ErrNotFound
	}
	if t.Consumed {
		return false, nil
	}
	t.Consumed = true
	s.tickets[ticketID] = t
	return true, nil
}

func (s *MemoryStore) ListExpiredTickets(ctx context.Context, now time.Time, limit int) ([]media.UploadTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []media.UploadTicket
	for _, t := range s.tickets {
		if !t.Consumed && t.Expired(now) {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteTicket(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tickets, ticketID)
	return nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job media.ProcessingJob) error {
	if s.CreateJobErr != nil {
		return s.CreateJobErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.TicketID]; exists {
		return ErrAlreadyExists
	}
	s.jobs[job.TicketID] = &jobRow{job: job, status: media.JobStatusAccepted}
	return nil
}

func (s *MemoryStore) GetJobByTicket(ctx context.Context, ticketID string) (media.ProcessingJob, media.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.jobs[ticketID]
	if !exists {
		return media.ProcessingJob{}, "", ErrNotFound
	}
	return row.job, row.status, nil
}

func (s *MemoryStore) MarkJobQueued(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.jobs {
		if row.job.JobID == jobID {
			if row.status == media.JobStatusAccepted {
				row.status = media.JobStatusQueued
			}
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) MarkJobProcessing(ctx context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.jobs {
		if row.job.JobID == jobID {
			row.status = media.JobStatusProcessing
			row.job.Attempt++
			return row.job.Attempt, nil
		}
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) MarkJobCompleted(ctx context.Context, jobID uuid.UUID) error {
	return s.setStatus(jobID, media.JobStatusCompleted, "")
}

func (s *MemoryStore) MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	return s.setStatus(jobID, media.JobStatusFailed, reason)
}

func (s *MemoryStore) setStatus(jobID uuid.UUID, status media.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.jobs {
		if row.job.JobID == jobID {
			row.status = status
			row.reason = reason
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) CreateRecord(ctx context.Context, rec *media.Record) error {
	if s.CreateRecordErr != nil {
		return s.CreateRecordErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id uuid.UUID) (*media.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) CountRecords(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *MemoryStore) ResolveCategory(ctx context.Context, ref string) (media.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, exists := s.categories[ref]; exists {
		return c, nil
	}
	for _, c := range s.categories {
		if strings.EqualFold(c.Name, ref) {
			return c, nil
		}
	}
	return media.Category{}, ErrNotFound
}

// AddCategory seeds a category (test helper).
func (s *MemoryStore) AddCategory(c media.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// JobStatus returns the stored status for a ticket (test helper).
func (s *MemoryStore) JobStatus(ticketID string) (media.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.jobs[ticketID]
	if !exists {
		return "", false
	}
	return row.status, true
}

// JobCount returns the number of jobs (test helper).
func (s *MemoryStore) JobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
