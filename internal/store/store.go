package store

import (
	"context"
	"errors"
	"time"

	"github.com/aperture-photos/aperture/internal/media"
	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

type TicketStore interface {
	CreateTicket(ctx context.Context, t media.UploadTicket) error
	GetTicket(ctx context.Context, ticketID string) (media.UploadTicket, error)
	// ConsumeTicket flips consumed to true iff it was false. The boolean
	// reports whether this call won the flip; losing callers use the
	// existing job for their response. This is the idempotency gate, done
	// as a conditional UPDATE rather than application-side locking.
	ConsumeTicket(ctx context.Context, ticketID string) (bool, error)
	ListExpiredTickets(ctx context.Context, now time.Time, limit int) ([]media.UploadTicket, error)
	DeleteTicket(ctx context.Context, ticketID string) error
}

type JobStore interface {
	// CreateJob persists the job in the accepted state; MarkJobQueued
	// confirms the broker saw it. A job left accepted is re-enqueued by the
	// next finalize retry for its ticket.
	CreateJob(ctx context.Context, job media.ProcessingJob) error
	GetJobByTicket(ctx context.Context, ticketID string) (media.ProcessingJob, media.JobStatus, error)
	MarkJobQueued(ctx context.Context, jobID uuid.UUID) error
	// MarkJobProcessing increments the stored attempt counter and returns the
	// new value. The payload cannot carry the count: it deserializes fresh on
	// every delivery.
	MarkJobProcessing(ctx context.Context, jobID uuid.UUID) (int, error)
	MarkJobCompleted(ctx context.Context, jobID uuid.UUID) error
	MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error
}

type RecordStore interface {
	// CreateRecord persists the canonical published entity. Record ids equal
	// job ids, so broker redelivery of a completed job cannot publish twice.
	CreateRecord(ctx context.Context, rec *media.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*media.Record, error)
	CountRecords(ctx context.Context) (int64, error)
}

// CategoryResolver is the external Category collaborator contract: resolve
// by id first, then by case-insensitive name.
type CategoryResolver interface {
	ResolveCategory(ctx context.Context, ref string) (media.Category, error)
}

type Store interface {
	TicketStore
	JobStore
	RecordStore
	CategoryResolver
	HealthCheck(ctx context.Context) error
}
