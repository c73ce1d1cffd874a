package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := Defaults()

	if s.MaxUploadSize != 50*1024*1024 {
		t.Errorf("MaxUploadSize = %d, want 50MiB", s.MaxUploadSize)
	}
	if s.UploadURLTTL != 10*time.Minute {
		t.Errorf("UploadURLTTL = %v, want 10m", s.UploadURLTTL)
	}
	if s.DominantColorCount != 3 {
		t.Errorf("DominantColorCount = %d, want 3", s.DominantColorCount)
	}
	if len(s.AllowedTypes) == 0 {
		t.Fatal("AllowedTypes is empty")
	}
}

func TestTypeAllowed(t *testing.T) {
	s := Defaults()

	tests := []struct {
		mime string
		want bool
	}{
		{"image/jpeg", true},
		{"IMAGE/JPEG", true},
		{" image/png ", true},
		{"video/mp4", true},
		{"image/tiff", false},
		{"application/pdf", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := s.TypeAllowed(tt.mime); got != tt.want {
			t.Errorf("TypeAllowed(%q) = %v, want %v", tt.mime, got, tt.want)
		}
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "max_upload_size: 1048576\nupload_url_ttl: 5m\nmax_tags: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.MaxUploadSize != 1048576 {
		t.Errorf("MaxUploadSize = %d, want 1048576", s.MaxUploadSize)
	}
	if s.UploadURLTTL != 5*time.Minute {
		t.Errorf("UploadURLTTL = %v, want 5m", s.UploadURLTTL)
	}
	if s.MaxTags != 5 {
		t.Errorf("MaxTags = %d, want 5", s.MaxTags)
	}

	// Fields the file does not set keep defaults.
	if s.MaxTitleLength != 200 {
		t.Errorf("MaxTitleLength = %d, want default 200", s.MaxTitleLength)
	}
	if s.DominantColorCount != 3 {
		t.Errorf("DominantColorCount = %d, want default 3", s.DominantColorCount)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if s.MaxUploadSize != Defaults().MaxUploadSize {
		t.Error("empty path should return defaults")
	}
}
