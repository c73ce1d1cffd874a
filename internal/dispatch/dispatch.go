package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/abdul-hamid-achik/job-queue/pkg/middleware"

	"github.com/aperture-photos/aperture/internal/extract"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/metrics"
	"github.com/aperture-photos/aperture/internal/notify"
	"github.com/aperture-photos/aperture/internal/publish"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
	"github.com/aperture-photos/aperture/internal/tracing"
	"github.com/aperture-photos/aperture/internal/transform"
)

type Dependencies struct {
	Store     store.Store
	Storage   storage.Storage
	Pool      *transform.Pool
	Publisher *publish.Publisher
	Sink      notify.Sink
	Settings  settings.Provider

	DownloadTimeout  time.Duration
	TransformTimeout time.Duration

	// MaxAttempts bounds broker deliveries per job. The final attempt settles
	// the job instead of returning a retryable error, so exhausted retries
	// still produce a failure notification.
	MaxAttempts int
}

// MediaIngestHandler processes one finalized upload end to end: download,
// classify, transform and extract in parallel, publish. Returning a plain
// error asks the broker to redeliver; middleware.Permanent stops retries.
func MediaIngestHandler(deps *Dependencies) func(context.Context, *job.Job) error {
	return func(ctx context.Context, j *job.Job) error {
		var payload media.ProcessingJob
		if err := j.UnmarshalPayload(&payload); err != nil {
			logger.FromContext(ctx).Error("invalid payload", "error", err, "queue_id", j.ID)
			return middleware.Permanent(fmt.Errorf("invalid payload: %w", err))
		}

		ctx = logger.WithJobID(ctx, payload.JobID.String())
		ctx = tracing.ExtractTraceContext(ctx, payload.Trace)
		ctx, span := tracing.StartIngestSpan(ctx, payload.JobID.String(), payload.TicketID)
		defer span.End()

		log := logger.FromContext(ctx).With("ticket_id", payload.TicketID, "uploader_id", payload.UploaderID)
		log.Info("ingest job started")
		start := time.Now()

		attempt, err := deps.Store.MarkJobProcessing(ctx, payload.JobID)
		if err != nil {
			log.Error("failed to mark job processing", "error", err)
			return fmt.Errorf("mark job processing: %w", err)
		}
		log = log.With("attempt", attempt)

		raw, err := download(ctx, deps, payload.RawObjectKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// The raw object is gone for good; retrying cannot help.
				return failPermanent(ctx, deps, &payload, "raw_object_missing", err)
			}
			log.Error("download failed", "error", err, "key", payload.RawObjectKey)
			return failRetryable(ctx, deps, &payload, attempt, "raw_download_failed",
				fmt.Errorf("download raw object: %w", err))
		}
		log.Debug("raw object downloaded", "bytes", len(raw))

		// Sniffed from content; the declared type died with the ticket and
		// was never trusted for processing anyway.
		mimeType := http.DetectContentType(raw)
		cfg := deps.Settings.Current()

		// Transform and extraction read the same immutable buffer in
		// parallel. Extraction is best-effort and cannot fail the job.
		var (
			wg       sync.WaitGroup
			out      *transform.Output
			tErr     error
			extracts extract.Results
		)

		wg.Add(2)
		go func() {
			defer wg.Done()
			tctx, cancel := context.WithTimeout(ctx, deps.TransformTimeout)
			defer cancel()
			out, tErr = deps.Pool.Submit(tctx, transform.Task{Raw: raw, MimeType: mimeType})
		}()
		go func() {
			defer wg.Done()
			extracts = extract.Run(ctx, raw, cfg.DominantColorCount)
		}()
		wg.Wait()

		if tErr != nil {
			var terr *transform.Error
			if errors.As(tErr, &terr) {
				return failPermanent(ctx, deps, &payload, terr.Reason, tErr)
			}
			// Timeout or pool shutdown: infrastructure, not input.
			log.Error("transform did not complete", "error", tErr)
			return failRetryable(ctx, deps, &payload, attempt, "transform_incomplete",
				fmt.Errorf("transform: %w", tErr))
		}

		if out.Reclassified {
			log.Info("animated image reclassified to video path", "bytes", len(raw))
		}

		rec, err := deps.Publisher.Publish(ctx, &payload, out, extracts)
		if err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				// A redelivered job whose record already landed. Settle the
				// job row and absorb the duplicate.
				log.Info("record already published, completing redelivered job")
				if err := deps.Store.MarkJobCompleted(ctx, payload.JobID); err != nil {
					log.Error("failed to mark job completed", "error", err)
				}
				return nil
			}
			log.Error("publish failed", "error", err)
			return failRetryable(ctx, deps, &payload, attempt, "publish_failed",
				fmt.Errorf("publish: %w", err))
		}

		if err := deps.Store.MarkJobCompleted(ctx, payload.JobID); err != nil {
			log.Error("failed to mark job completed", "error", err)
		}

		metrics.RecordJob("completed", string(out.Kind), time.Since(start).Seconds())
		log.Info("ingest job completed",
			"media_id", rec.ID,
			"kind", out.Kind,
			"variants", len(rec.Variants),
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}

func download(ctx context.Context, deps *Dependencies, key string) ([]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, deps.DownloadTimeout)
	defer cancel()

	reader, err := deps.Storage.Download(dctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	return raw, nil
}

// failRetryable hands an infrastructure failure back to the broker for
// redelivery while attempts remain. On the final attempt it settles the job
// through failPermanent instead, so the uploader is never left in silence.
func failRetryable(ctx context.Context, deps *Dependencies, payload *media.ProcessingJob, attempt int, reason string, cause error) error {
	if deps.MaxAttempts > 0 && attempt >= deps.MaxAttempts {
		return failPermanent(ctx, deps, payload, reason,
			fmt.Errorf("giving up after %d attempts: %w", attempt, cause))
	}
	return cause
}

// failPermanent settles a job that no retry can save: the job row goes to
// failed, the uploader gets a failure notification, and the broker is told
// to stop redelivering. The raw object is retained for inspection.
func failPermanent(ctx context.Context, deps *Dependencies, payload *media.ProcessingJob, reason string, cause error) error {
	log := logger.FromContext(ctx)
	log.Warn("ingest job failed permanently", "reason", reason, "error", cause)
	tracing.RecordError(ctx, cause)

	if err := deps.Store.MarkJobFailed(ctx, payload.JobID, reason); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}

	event, err := notify.NewMediaFailedEvent(
		payload.TicketID, payload.JobID.String(), payload.UploaderID, reason, cause.Error())
	if err != nil {
		log.Warn("failed to build failure event", "error", err)
	} else {
		deps.Sink.Publish(ctx, event)
	}

	metrics.RecordJob("failed", string(media.TicketKind(payload.TicketID)), 0)
	return middleware.Permanent(fmt.Errorf("%s: %w", reason, cause))
}
