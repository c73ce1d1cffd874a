package media

import (
	"strings"
	"testing"
	"time"
)

func TestNewTicketID(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	id, err := NewTicketID(KindImage, now)
	if err != nil {
		t.Fatalf("NewTicketID() error = %v", err)
	}
	if !ValidTicketID(id) {
		t.Errorf("generated id %q does not match the ticket pattern", id)
	}
	if !strings.HasPrefix(id, "image-") {
		t.Errorf("id = %q, want image- prefix", id)
	}

	vid, err := NewTicketID(KindVideo, now)
	if err != nil {
		t.Fatalf("NewTicketID() error = %v", err)
	}
	if !strings.HasPrefix(vid, "video-") {
		t.Errorf("id = %q, want video- prefix", vid)
	}
	if TicketKind(vid) != KindVideo {
		t.Errorf("TicketKind(%q) = %v, want video", vid, TicketKind(vid))
	}
}

func TestValidTicketID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid image id", "image-1735689600123-9f8a3c01", true},
		{"valid video id", "video-1735689600123-00ff00ff", true},
		{"wrong kind", "audio-1735689600123-9f8a3c01", false},
		{"uppercase hex", "image-1735689600123-9F8A3C01", false},
		{"short hex", "image-1735689600123-9f8a3c0", false},
		{"missing timestamp", "image--9f8a3c01", false},
		{"path traversal", "image-1735689600123-9f8a3c01/../../etc", false},
		{"empty", "", false},
		{"sql-ish", "image-1; DROP TABLE upload_tickets--", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTicketID(tt.id); got != tt.want {
				t.Errorf("ValidTicketID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "photo.jpg", "photo.jpg"},
		{"spaces", "my photo.jpg", "my_photo.jpg"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"unicode replaced", "férias.png", "f_rias.png"},
		{"empty", "", "upload"},
		{"dot only", ".", "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRawObjectKey(t *testing.T) {
	key := RawObjectKey("image-1735689600123-9f8a3c01", "my photo.jpg")
	want := "raw/image-1735689600123-9f8a3c01/my_photo.jpg"
	if key != want {
		t.Errorf("RawObjectKey() = %q, want %q", key, want)
	}
}

func TestModerationStatus(t *testing.T) {
	privileged := ProcessingJob{IsPrivileged: true}
	if got := privileged.ModerationStatus(); got != ModerationApproved {
		t.Errorf("privileged job moderation = %v, want approved", got)
	}

	regular := ProcessingJob{}
	if got := regular.ModerationStatus(); got != ModerationPending {
		t.Errorf("regular job moderation = %v, want pending", got)
	}
}

func TestTicketExpired(t *testing.T) {
	now := time.Now()
	ticket := UploadTicket{ExpiresAt: now.Add(10 * time.Minute)}

	if ticket.Expired(now) {
		t.Error("ticket should not be expired before its deadline")
	}
	if ticket.Expired(ticket.ExpiresAt) {
		t.Error("ticket should not be expired exactly at its deadline")
	}
	if !ticket.Expired(now.Add(11 * time.Minute)) {
		t.Error("ticket should be expired after its deadline")
	}
}
