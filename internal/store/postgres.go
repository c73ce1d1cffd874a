package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aperture-photos/aperture/internal/media"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t media.UploadTicket) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upload_tickets (ticket_id, raw_object_key, issued_to, expires_at, consumed)
		VALUES ($1, $2, $3, $4, false)`,
		t.TicketID, t.RawObjectKey, t.IssuedTo, t.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, ticketID string) (media.UploadTicket, error) {
	var t media.UploadTicket
	err := s.pool.QueryRow(ctx, `
		SELECT ticket_id, raw_object_key, issued_to, expires_at, consumed
		FROM upload_tickets WHERE ticket_id = $1`,
		ticketID,
	).Scan(&t.TicketID, &t.RawObjectKey, &t.IssuedTo, &t.ExpiresAt, &t.Consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return media.UploadTicket{}, ErrNotFound
	}
	if err != nil {
		return media.UploadTicket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ConsumeTicket(ctx context.Context, ticketID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upload_tickets SET consumed = true
		WHERE ticket_id = $1 AND consumed = false`,
		ticketID,
	)
	if err != nil {
		return false, fmt.Errorf("consume ticket: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListExpiredTickets(ctx context.Context, now time.Time, limit int) ([]media.UploadTicket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, raw_object_key, issued_to, expires_at, consumed
		FROM upload_tickets
		WHERE consumed = false AND expires_at < $1
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired tickets: %w", err)
	}
	defer rows.Close()

	var tickets []media.UploadTicket
	for rows.Next() {
		var t media.UploadTicket
		if err := rows.Scan(&t.TicketID, &t.RawObjectKey, &t.IssuedTo, &t.ExpiresAt, &t.Consumed); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, ticketID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM upload_tickets WHERE ticket_id = $1`, ticketID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job media.ProcessingJob) error {
	coords, err := marshalCoordinates(job.Coordinates)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO processing_jobs
			(job_id, ticket_id, raw_object_key, uploader_id, is_privileged,
			 title_text, category_id, location_text, coordinates, camera_model,
			 tags, attempt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'accepted', now())`,
		job.JobID, job.TicketID, job.RawObjectKey, job.UploaderID, job.IsPrivileged,
		job.TitleText, job.CategoryID, nullable(job.LocationText), coords,
		nullable(job.CameraModel), job.Tags, job.Attempt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobByTicket(ctx context.Context, ticketID string) (media.ProcessingJob, media.JobStatus, error) {
	var (
		job          media.ProcessingJob
		status       string
		locationText *string
		cameraModel  *string
		coords       []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, ticket_id, raw_object_key, uploader_id, is_privileged,
		       title_text, category_id, location_text, coordinates, camera_model,
		       tags, attempt, status
		FROM processing_jobs WHERE ticket_id = $1`,
		ticketID,
	).Scan(&job.JobID, &job.TicketID, &job.RawObjectKey, &job.UploaderID, &job.IsPrivileged,
		&job.TitleText, &job.CategoryID, &locationText, &coords, &cameraModel,
		&job.Tags, &job.Attempt, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return media.ProcessingJob{}, "", ErrNotFound
	}
	if err != nil {
		return media.ProcessingJob{}, "", fmt.Errorf("get job by ticket: %w", err)
	}

	if locationText != nil {
		job.LocationText = *locationText
	}
	if cameraModel != nil {
		job.CameraModel = *cameraModel
	}
	if len(coords) > 0 {
		var c media.Coordinates
		if err := json.Unmarshal(coords, &c); err != nil {
			return media.ProcessingJob{}, "", fmt.Errorf("decode coordinates: %w", err)
		}
		job.Coordinates = &c
	}
	return job, media.JobStatus(status), nil
}

// MarkJobQueued confirms the broker enqueue. The status guard keeps a late
// finalize retry from regressing a job the dispatcher already picked up.
func (s *PostgresStore) MarkJobQueued(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'queued'
		WHERE job_id = $1 AND status = 'accepted'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark job queued: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, jobID uuid.UUID) (int, error) {
	var attempt int
	err := s.pool.QueryRow(ctx, `
		UPDATE processing_jobs
		SET status = 'processing', attempt = attempt + 1, started_at = now()
		WHERE job_id = $1
		RETURNING attempt`,
		jobID,
	).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark job processing: %w", err)
	}
	return attempt, nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'completed', finished_at = now()
		WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = 'failed', error_message = $2, finished_at = now()
		WHERE job_id = $1`,
		jobID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *media.Record) error {
	variants, err := json.Marshal(rec.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	coords, err := marshalCoordinates(rec.Coordinates)
	if err != nil {
		return err
	}
	var exif []byte
	if !rec.Exif.Empty() {
		exif, err = json.Marshal(rec.Exif)
		if err != nil {
			return fmt.Errorf("encode exif: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO media_records
			(id, kind, title_text, category_id, location_text, coordinates, tags,
			 variants, dominant_colors, exif, moderation_status, uploader_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Kind, rec.TitleText, rec.CategoryID, nullable(rec.LocationText),
		coords, rec.Tags, variants, rec.DominantColors, exif,
		rec.ModerationStatus, rec.UploaderID, rec.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*media.Record, error) {
	var (
		rec          media.Record
		locationText *string
		coords       []byte
		variants     []byte
		exif         []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, title_text, category_id, location_text, coordinates, tags,
		       variants, dominant_colors, exif, moderation_status, uploader_id, created_at
		FROM media_records WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Kind, &rec.TitleText, &rec.CategoryID, &locationText, &coords,
		&rec.Tags, &variants, &rec.DominantColors, &exif, &rec.ModerationStatus,
		&rec.UploaderID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	if locationText != nil {
		rec.LocationText = *locationText
	}
	if len(coords) > 0 {
		var c media.Coordinates
		if err := json.Unmarshal(coords, &c); err != nil {
			return nil, fmt.Errorf("decode coordinates: %w", err)
		}
		rec.Coordinates = &c
	}
	if err := json.Unmarshal(variants, &rec.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if len(exif) > 0 {
		var e media.ExifFields
		if err := json.Unmarshal(exif, &e); err != nil {
			return nil, fmt.Errorf("decode exif: %w", err)
		}
		rec.Exif = &e
	}
	return &rec, nil
}

func (s *PostgresStore) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM media_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ResolveCategory(ctx context.Context, ref string) (media.Category, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return media.Category{}, ErrNotFound
	}

	var c media.Category
	err := s.pool.QueryRow(ctx, `
		SELECT id, name FROM categories
		WHERE id = $1 OR lower(name) = lower($1)
		LIMIT 1`,
		ref,
	).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return media.Category{}, ErrNotFound
	}
	if err != nil {
		return media.Category{}, fmt.Errorf("resolve category: %w", err)
	}
	return c, nil
}

func marshalCoordinates(c *media.Coordinates) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode coordinates: %w", err)
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
