package finalize

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/metrics"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
	"github.com/aperture-photos/aperture/internal/tracing"
)

// JobTypeMediaIngest is the queue job type the dispatcher registers for.
const JobTypeMediaIngest = "media_ingest"

const processingTimeHint = "tens of seconds"

type Broker interface {
	Enqueue(jobType string, payload interface{}) (string, error)
}

type Request struct {
	TicketID     string             `json:"ticket_id"`
	RawObjectKey string             `json:"raw_object_key"`
	Title        string             `json:"title"`
	Category     string             `json:"category"`
	LocationText string             `json:"location_text,omitempty"`
	Coordinates  *media.Coordinates `json:"coordinates,omitempty"`
	CameraModel  string             `json:"camera_model,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
}

type Response struct {
	Message            string `json:"message"`
	JobID              string `json:"job_id"`
	ProcessingTimeHint string `json:"processing_time_hint"`
}

// Identity is the authenticated caller, resolved by the API middleware.
// Privilege is snapshotted into the job here and never re-evaluated.
type Identity struct {
	UploaderID string
	Privileged bool
}

type Service struct {
	store    store.Store
	broker   Broker
	objects  storage.Storage
	settings settings.Provider
	now      func() time.Time
}

func NewService(st store.Store, broker Broker, objects storage.Storage, sp settings.Provider) *Service {
	return &Service{
		store:    st,
		broker:   broker,
		objects:  objects,
		settings: sp,
		now:      time.Now,
	}
}

// Finalize turns a completed client upload into exactly one queued ingest
// job. Replays of the same ticket get the original accepted response back.
func (s *Service) Finalize(ctx context.Context, caller Identity, req Request) (*Response, error) {
	log := logger.FromContext(ctx)
	cfg := s.settings.Current()

	// The ticket id reaches storage lookups only after it matches the minting
	// pattern, so a crafted id can never become a store or object key probe.
	if !media.ValidTicketID(req.TicketID) {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.ErrTicketInvalidFormat
	}

	if err := validateMetadata(req, cfg); err != nil {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	category, err := s.store.ResolveCategory(ctx, req.Category)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
			return nil, apperror.ErrUnknownCategory
		}
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	ticket, err := s.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
			return nil, apperror.ErrMissingTicket
		}
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	if ticket.IssuedTo != caller.UploaderID {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.ErrForbidden
	}
	if req.RawObjectKey != ticket.RawObjectKey {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.ErrForbidden
	}
	if ticket.Expired(s.now()) {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.ErrTicketExpired
	}

	// The checked-before-consumed order matters: a rejection here leaves the
	// ticket usable, so the client can finish the upload and call again.
	uploaded, err := s.objects.Exists(ctx, ticket.RawObjectKey)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrUpstreamUnavailable)
	}
	if !uploaded {
		metrics.FinalizeTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"raw object has not been uploaded", apperror.ErrValidationFailed.StatusCode)
	}

	won, err := s.store.ConsumeTicket(ctx, req.TicketID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}
	if !won {
		return s.replay(ctx, req.TicketID)
	}

	job := media.ProcessingJob{
		JobID:        uuid.New(),
		TicketID:     req.TicketID,
		RawObjectKey: ticket.RawObjectKey,
		UploaderID:   caller.UploaderID,
		IsPrivileged: caller.Privileged,
		TitleText:    strings.TrimSpace(req.Title),
		CategoryID:   category.ID,
		LocationText: strings.TrimSpace(req.LocationText),
		Coordinates:  req.Coordinates,
		CameraModel:  strings.TrimSpace(req.CameraModel),
		Tags:         normalizeTags(req.Tags),
		Attempt:      0,
		Trace:        tracing.InjectTraceContext(ctx),
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		// The unique ticket constraint means a concurrent finalize already
		// created this job; hand back its response.
		if errors.Is(err, store.ErrAlreadyExists) {
			return s.replay(ctx, req.TicketID)
		}
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	_, span := tracing.StartEnqueueSpan(ctx, JobTypeMediaIngest)
	_, err = s.broker.Enqueue(JobTypeMediaIngest, &job)
	span.End()
	if err != nil {
		// The job row stays accepted; the client's retry lands in replay,
		// which enqueues it then.
		log.Error("failed to enqueue ingest job", "error", err, "job_id", job.JobID)
		metrics.FinalizeTotal.WithLabelValues("error").Inc()
		return nil, apperror.Wrap(err, apperror.ErrUpstreamUnavailable)
	}
	if err := s.store.MarkJobQueued(ctx, job.JobID); err != nil {
		log.Warn("failed to confirm enqueue", "error", err, "job_id", job.JobID)
	}

	metrics.FinalizeTotal.WithLabelValues("accepted").Inc()
	log.Info("ingest job enqueued",
		"job_id", job.JobID,
		"ticket_id", req.TicketID,
		"uploader_id", caller.UploaderID,
		"category_id", category.ID)

	return accepted(job.JobID), nil
}

// replay returns the response of the finalize call that won the ticket. A job
// still in the accepted state never reached the broker, so replay enqueues it;
// without this, an enqueue failure after CreateJob would strand the job
// forever behind its consumed ticket.
func (s *Service) replay(ctx context.Context, ticketID string) (*Response, error) {
	log := logger.FromContext(ctx)

	job, status, err := s.store.GetJobByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	if status == media.JobStatusAccepted {
		if _, err := s.broker.Enqueue(JobTypeMediaIngest, &job); err != nil {
			log.Error("failed to enqueue ingest job on replay", "error", err, "job_id", job.JobID)
			metrics.FinalizeTotal.WithLabelValues("error").Inc()
			return nil, apperror.Wrap(err, apperror.ErrUpstreamUnavailable)
		}
		if err := s.store.MarkJobQueued(ctx, job.JobID); err != nil {
			log.Warn("failed to confirm enqueue", "error", err, "job_id", job.JobID)
		}
		log.Info("ingest job enqueued on finalize replay",
			"ticket_id", ticketID, "job_id", job.JobID)
	}

	metrics.FinalizeTotal.WithLabelValues("duplicate").Inc()
	log.Info("finalize replayed for consumed ticket",
		"ticket_id", ticketID, "job_id", job.JobID)
	return accepted(job.JobID), nil
}

func accepted(jobID uuid.UUID) *Response {
	return &Response{
		Message:            "Upload accepted for processing",
		JobID:              jobID.String(),
		ProcessingTimeHint: processingTimeHint,
	}
}

func validateMetadata(req Request, cfg settings.Settings) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"title is required", apperror.ErrValidationFailed.StatusCode)
	}
	if utf8.RuneCountInString(title) > cfg.MaxTitleLength {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"title is too long", apperror.ErrValidationFailed.StatusCode)
	}
	if strings.TrimSpace(req.Category) == "" {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"category is required", apperror.ErrValidationFailed.StatusCode)
	}
	if strings.TrimSpace(req.RawObjectKey) == "" {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"raw_object_key is required", apperror.ErrValidationFailed.StatusCode)
	}
	if len(req.Tags) > cfg.MaxTags {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"too many tags", apperror.ErrValidationFailed.StatusCode)
	}
	for _, tag := range req.Tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
				"tags must not be empty", apperror.ErrValidationFailed.StatusCode)
		}
		if utf8.RuneCountInString(trimmed) > cfg.MaxTagLength {
			return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
				"tag is too long", apperror.ErrValidationFailed.StatusCode)
		}
	}
	if req.Coordinates != nil {
		c := req.Coordinates
		if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
				"coordinates are out of range", apperror.ErrValidationFailed.StatusCode)
		}
	}
	return nil
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.TrimSpace(t))
	}
	return out
}
