package metrics

import (
	"context"
	"io"
	"time"

	"github.com/aperture-photos/aperture/internal/storage"
)

// InstrumentedStorage wraps a Storage and times every operation.
type InstrumentedStorage struct {
	storage.Storage
}

func NewInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	return &InstrumentedStorage{Storage: s}
}

func (s *InstrumentedStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	start := time.Now()
	err := s.Storage.Upload(ctx, key, reader, contentType, size)
	observe("upload", start, err)
	return err
}

func (s *InstrumentedStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.Storage.Download(ctx, key)
	observe("download", start, err)
	return reader, err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Storage.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStorage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := s.Storage.Exists(ctx, key)
	observe("exists", start, err)
	return exists, err
}

func (s *InstrumentedStorage) PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	start := time.Now()
	url, err := s.Storage.PresignUpload(ctx, key, expiry)
	observe("presign_upload", start, err)
	return url, err
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
