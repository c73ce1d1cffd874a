package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aperture-photos/aperture/internal/cache"
	"github.com/aperture-photos/aperture/internal/extract"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/metrics"
	"github.com/aperture-photos/aperture/internal/notify"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
	"github.com/aperture-photos/aperture/internal/transform"
)

// Publisher makes a transform output visible: every variant durably stored
// first, then the record, then raw cleanup. Order matters; a record must
// never point at a variant that does not exist.
type Publisher struct {
	storage storage.Storage
	records RecordCreator
	cache   cache.Invalidator
	sink    notify.Sink
}

type RecordCreator interface {
	CreateRecord(ctx context.Context, rec *media.Record) error
}

func New(st storage.Storage, records RecordCreator, inv cache.Invalidator, sink notify.Sink) *Publisher {
	return &Publisher{
		storage: st,
		records: records,
		cache:   inv,
		sink:    sink,
	}
}

// Publish uploads all variants, creates the canonical record, deletes the raw
// object, and invalidates read caches. The first upload failure rolls back
// every key written so far and leaves the raw object in place.
func (p *Publisher) Publish(ctx context.Context, job *media.ProcessingJob, out *transform.Output, ex extract.Results) (*media.Record, error) {
	log := logger.FromContext(ctx)

	var (
		variants []media.Variant
		written  []string
	)

	for _, v := range out.Variants {
		key := variantKey(job.JobID.String(), v)
		if err := p.storage.Upload(ctx, key, bytes.NewReader(v.Data), v.ContentType, int64(len(v.Data))); err != nil {
			p.rollback(ctx, written)
			return nil, fmt.Errorf("upload variant %s: %w", key, err)
		}
		written = append(written, key)
		metrics.VariantBytes.WithLabelValues(string(v.Tier), string(v.Encoding)).Add(float64(len(v.Data)))

		variants = append(variants, media.Variant{
			SizeTier: v.Tier,
			Encoding: v.Encoding,
			URL:      "/cdn/" + key,
			Width:    v.Width,
			Height:   v.Height,
		})
	}

	rec := &media.Record{
		ID:               job.JobID,
		Kind:             out.Kind,
		TitleText:        job.TitleText,
		CategoryID:       job.CategoryID,
		LocationText:     job.LocationText,
		Coordinates:      job.Coordinates,
		Tags:             job.Tags,
		Variants:         variants,
		DominantColors:   ex.Colors,
		Exif:             ex.Exif,
		ModerationStatus: job.ModerationStatus(),
		UploaderID:       job.UploaderID,
		CreatedAt:        time.Now().UTC(),
	}

	if err := p.records.CreateRecord(ctx, rec); err != nil {
		// A record that already exists means a redelivered job: the keys
		// just written hold the same bytes the first delivery stored, so
		// they must stay. Roll back only on a real failure.
		if !errors.Is(err, store.ErrAlreadyExists) {
			p.rollback(ctx, written)
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	// Raw cleanup and cache invalidation are best-effort once the record
	// exists; a leftover raw object is an orphan, not an inconsistency.
	if err := p.storage.Delete(ctx, job.RawObjectKey); err != nil {
		log.Warn("failed to delete raw object", "error", err, "key", job.RawObjectKey)
	}

	if err := p.cache.Invalidate(ctx,
		cache.RecentKey(),
		cache.CategoryKey(job.CategoryID),
		cache.UploaderKey(job.UploaderID),
	); err != nil {
		log.Warn("cache invalidation failed", "error", err)
	}

	p.notifyPublished(ctx, job, rec)

	log.Info("media record published",
		"media_id", rec.ID,
		"kind", rec.Kind,
		"variants", len(rec.Variants),
		"moderation_status", rec.ModerationStatus)

	return rec, nil
}

func (p *Publisher) rollback(ctx context.Context, keys []string) {
	log := logger.FromContext(ctx)
	for _, key := range keys {
		if err := p.storage.Delete(ctx, key); err != nil {
			log.Warn("rollback delete failed", "error", err, "key", key)
		}
	}
}

func (p *Publisher) notifyPublished(ctx context.Context, job *media.ProcessingJob, rec *media.Record) {
	names := make([]string, 0, len(rec.Variants))
	for _, v := range rec.Variants {
		names = append(names, fmt.Sprintf("%s/%s", v.SizeTier, v.Encoding))
	}
	event, err := notify.NewMediaPublishedEvent(rec.ID.String(), job.TicketID, job.UploaderID, string(rec.Kind), names)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to build published event", "error", err)
		return
	}
	p.sink.Publish(ctx, event)
}

// variantKey names a processed object: processed/<jobId>/<tier>.<ext>. Tier
// plus encoding uniquely identifies a variant, and the extension encodes the
// encoding, so keys never collide within a job.
func variantKey(jobID string, v transform.Variant) string {
	return fmt.Sprintf("processed/%s/%s%s", jobID, v.Tier, extensionFor(v))
}

func extensionFor(v transform.Variant) string {
	if v.Encoding == media.EncodingModern {
		return ".webp"
	}
	switch strings.ToLower(v.ContentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
