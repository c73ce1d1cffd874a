package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
)

func newTestService(st *store.MemoryStore, objects *storage.MemoryStorage) *Service {
	return NewService(st, objects, settings.NewStatic(settings.Defaults()))
}

func TestIssue(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStorage()
	svc := newTestService(st, objects)

	resp, err := svc.Issue(context.Background(), "user-1", Request{
		FileName: "vacation photo.jpg",
		FileSize: 4 * 1024 * 1024,
		MimeType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if !media.ValidTicketID(resp.TicketID) {
		t.Errorf("ticket id %q does not match the pattern", resp.TicketID)
	}
	if !strings.HasPrefix(resp.TicketID, "image-") {
		t.Errorf("ticket id = %q, want image- prefix", resp.TicketID)
	}
	wantKey := "raw/" + resp.TicketID + "/vacation_photo.jpg"
	if resp.RawObjectKey != wantKey {
		t.Errorf("raw object key = %q, want %q", resp.RawObjectKey, wantKey)
	}
	if resp.UploadURL == "" {
		t.Error("upload url is empty")
	}
	if resp.ExpiresIn != int64((10 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d, want 600", resp.ExpiresIn)
	}
	if resp.MaxFileSize != settings.Defaults().MaxUploadSize {
		t.Errorf("max_file_size = %d, want %d", resp.MaxFileSize, settings.Defaults().MaxUploadSize)
	}

	ticket, err := st.GetTicket(context.Background(), resp.TicketID)
	if err != nil {
		t.Fatalf("ticket was not persisted: %v", err)
	}
	if ticket.IssuedTo != "user-1" {
		t.Errorf("ticket issued_to = %q, want user-1", ticket.IssuedTo)
	}
	if ticket.Consumed {
		t.Error("fresh ticket is already consumed")
	}
}

func TestIssueVideoKind(t *testing.T) {
	svc := newTestService(store.NewMemoryStore(), storage.NewMemoryStorage())

	resp, err := svc.Issue(context.Background(), "user-1", Request{
		FileName: "clip.mp4",
		FileSize: 1024,
		MimeType: "video/mp4",
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !strings.HasPrefix(resp.TicketID, "video-") {
		t.Errorf("ticket id = %q, want video- prefix", resp.TicketID)
	}
}

func TestIssueSizeBoundary(t *testing.T) {
	max := settings.Defaults().MaxUploadSize

	tests := []struct {
		name     string
		size     int64
		wantCode string
	}{
		{"exactly max accepted", max, ""},
		{"one over max rejected", max + 1, "payload_too_large"},
		{"zero rejected", 0, "validation_failed"},
		{"negative rejected", -5, "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(store.NewMemoryStore(), storage.NewMemoryStorage())
			_, err := svc.Issue(context.Background(), "user-1", Request{
				FileName: "a.jpg",
				FileSize: tt.size,
				MimeType: "image/jpeg",
			})
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Issue() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Issue() succeeded, want error")
			}
			if apperror.Code(err) != tt.wantCode {
				t.Errorf("error code = %q, want %q", apperror.Code(err), tt.wantCode)
			}
		})
	}
}

func TestIssueRejectsTypes(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		mimeType string
		wantCode string
	}{
		{"disallowed mime", "doc.pdf", "application/pdf", "unsupported_media_type"},
		{"empty mime", "a.jpg", "", "unsupported_media_type"},
		{"spoofed extension", "malware.mp4", "image/jpeg", "unsupported_media_type"},
		{"video ext with image mime", "clip.mov", "image/png", "unsupported_media_type"},
		{"empty filename", "", "image/jpeg", "validation_failed"},
		{"filename too long", strings.Repeat("a", 300) + ".jpg", "image/jpeg", "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(store.NewMemoryStore(), storage.NewMemoryStorage())
			_, err := svc.Issue(context.Background(), "user-1", Request{
				FileName: tt.fileName,
				FileSize: 1024,
				MimeType: tt.mimeType,
			})
			if err == nil {
				t.Fatal("Issue() succeeded, want error")
			}
			if apperror.Code(err) != tt.wantCode {
				t.Errorf("error code = %q, want %q", apperror.Code(err), tt.wantCode)
			}
		})
	}
}

func TestIssueAcceptsUnknownExtension(t *testing.T) {
	// An extension outside the known set is not proof of spoofing; the
	// declared mime type governs and content is re-checked downstream.
	svc := newTestService(store.NewMemoryStore(), storage.NewMemoryStorage())
	_, err := svc.Issue(context.Background(), "user-1", Request{
		FileName: "export.raw_backup",
		FileSize: 1024,
		MimeType: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Issue() error = %v, want nil", err)
	}
}

func TestIssuePresignFailure(t *testing.T) {
	objects := storage.NewMemoryStorage()
	objects.PresignErr = errors.New("minio unreachable")
	svc := newTestService(store.NewMemoryStore(), objects)

	_, err := svc.Issue(context.Background(), "user-1", Request{
		FileName: "a.jpg",
		FileSize: 1024,
		MimeType: "image/jpeg",
	})
	if err == nil {
		t.Fatal("Issue() succeeded, want error")
	}
	if apperror.Code(err) != "upstream_unavailable" {
		t.Errorf("error code = %q, want upstream_unavailable", apperror.Code(err))
	}
}
