package intent

import (
	"context"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/metrics"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
)

// extensionsByType lists the file extensions each accepted mime type may
// carry. A declared type whose filename extension belongs to a different
// accepted type is rejected rather than trusted.
var extensionsByType = map[string][]string{
	"image/jpeg":      {".jpg", ".jpeg", ".jpe"},
	"image/png":       {".png"},
	"image/gif":       {".gif"},
	"image/webp":      {".webp"},
	"video/mp4":       {".mp4", ".m4v"},
	"video/quicktime": {".mov", ".qt"},
	"video/webm":      {".webm"},
}

type Request struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

type Response struct {
	TicketID     string `json:"ticket_id"`
	RawObjectKey string `json:"raw_object_key"`
	UploadURL    string `json:"upload_url"`
	ExpiresIn    int64  `json:"expires_in"`
	MaxFileSize  int64  `json:"max_file_size"`
}

type Service struct {
	tickets  store.TicketStore
	storage  storage.Storage
	settings settings.Provider
	now      func() time.Time
}

func NewService(tickets store.TicketStore, st storage.Storage, sp settings.Provider) *Service {
	return &Service{
		tickets:  tickets,
		storage:  st,
		settings: sp,
		now:      time.Now,
	}
}

// Issue validates a declared upload and returns a single-use ticket plus a
// presigned URL scoped to the ticket's raw object key. Nothing is uploaded
// here; the client talks to object storage directly.
func (s *Service) Issue(ctx context.Context, uploaderID string, req Request) (*Response, error) {
	log := logger.FromContext(ctx)
	cfg := s.settings.Current()

	if err := validate(req, cfg); err != nil {
		metrics.IntentIssuedTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	mimeType := strings.ToLower(strings.TrimSpace(req.MimeType))
	kind := media.KindImage
	if strings.HasPrefix(mimeType, "video/") {
		kind = media.KindVideo
	}

	now := s.now()
	ticketID, err := media.NewTicketID(kind, now)
	if err != nil {
		metrics.IntentIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	ticket := media.UploadTicket{
		TicketID:     ticketID,
		RawObjectKey: media.RawObjectKey(ticketID, req.FileName),
		IssuedTo:     uploaderID,
		ExpiresAt:    now.Add(cfg.UploadURLTTL),
	}

	if err := s.tickets.CreateTicket(ctx, ticket); err != nil {
		log.Error("failed to persist upload ticket", "error", err)
		metrics.IntentIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperror.Wrap(err, apperror.ErrInternal)
	}

	uploadURL, err := s.storage.PresignUpload(ctx, ticket.RawObjectKey, cfg.UploadURLTTL)
	if err != nil {
		log.Error("failed to presign upload", "error", err, "key", ticket.RawObjectKey)
		metrics.IntentIssuedTotal.WithLabelValues("error").Inc()
		return nil, apperror.Wrap(err, apperror.ErrUpstreamUnavailable)
	}

	metrics.IntentIssuedTotal.WithLabelValues("issued").Inc()
	log.Info("upload intent issued",
		"ticket_id", ticketID,
		"uploader_id", uploaderID,
		"mime_type", mimeType,
		"file_size", req.FileSize)

	return &Response{
		TicketID:     ticketID,
		RawObjectKey: ticket.RawObjectKey,
		UploadURL:    uploadURL,
		ExpiresIn:    int64(cfg.UploadURLTTL.Seconds()),
		MaxFileSize:  cfg.MaxUploadSize,
	}, nil
}

func validate(req Request, cfg settings.Settings) error {
	if strings.TrimSpace(req.FileName) == "" {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"file_name is required", apperror.ErrValidationFailed.StatusCode)
	}
	if utf8.RuneCountInString(req.FileName) > cfg.MaxFilenameLength {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"file_name is too long", apperror.ErrValidationFailed.StatusCode)
	}
	if req.FileSize <= 0 {
		return apperror.WrapWithMessage(nil, apperror.ErrValidationFailed.Code,
			"file_size must be positive", apperror.ErrValidationFailed.StatusCode)
	}
	if req.FileSize > cfg.MaxUploadSize {
		return apperror.ErrPayloadTooLarge
	}

	mimeType := strings.ToLower(strings.TrimSpace(req.MimeType))
	if !cfg.TypeAllowed(mimeType) {
		return apperror.ErrUnsupportedMediaType
	}
	if !extensionMatches(mimeType, req.FileName) {
		return apperror.WrapWithMessage(nil, apperror.ErrUnsupportedMediaType.Code,
			"File extension does not match the declared type",
			apperror.ErrUnsupportedMediaType.StatusCode)
	}
	return nil
}

// extensionMatches rejects a filename whose extension belongs to one of the
// other accepted types. Unknown extensions pass; the declared mime type is
// authoritative and the transform stage re-checks real content anyway.
func extensionMatches(mimeType, fileName string) bool {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		return true
	}
	for _, allowed := range extensionsByType[mimeType] {
		if ext == allowed {
			return true
		}
	}
	for declared, exts := range extensionsByType {
		if declared == mimeType {
			continue
		}
		for _, e := range exts {
			if ext == e {
				return false
			}
		}
	}
	return true
}
