package settings

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the operator-tunable upload policies. They are deliberately
// separate from process config: config wires the process, settings describe
// what uploads the platform accepts.
type Settings struct {
	MaxUploadSize           int64
	MaxFilenameLength       int
	AllowedTypes            []string
	UploadURLTTL            time.Duration
	AnimationVideoThreshold int64
	DominantColorCount      int
	MaxTitleLength          int
	MaxTags                 int
	MaxTagLength            int
}

type Provider interface {
	Current() Settings
}

// Static is a fixed-settings provider.
type Static struct {
	settings Settings
}

func NewStatic(s Settings) *Static {
	return &Static{settings: s}
}

func (p *Static) Current() Settings {
	return p.settings
}

func Defaults() Settings {
	return Settings{
		MaxUploadSize:     50 * 1024 * 1024,
		MaxFilenameLength: 255,
		AllowedTypes: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/webp",
			"video/mp4",
			"video/quicktime",
			"video/webm",
		},
		UploadURLTTL:            10 * time.Minute,
		AnimationVideoThreshold: 8 * 1024 * 1024,
		DominantColorCount:      3,
		MaxTitleLength:          200,
		MaxTags:                 20,
		MaxTagLength:            50,
	}
}

// fileSettings mirrors Settings with durations as strings, the way they are
// written in YAML ("10m", "90s").
type fileSettings struct {
	MaxUploadSize           int64    `yaml:"max_upload_size"`
	MaxFilenameLength       int      `yaml:"max_filename_length"`
	AllowedTypes            []string `yaml:"allowed_types"`
	UploadURLTTL            string   `yaml:"upload_url_ttl"`
	AnimationVideoThreshold int64    `yaml:"animation_video_threshold"`
	DominantColorCount      int      `yaml:"dominant_color_count"`
	MaxTitleLength          int      `yaml:"max_title_length"`
	MaxTags                 int      `yaml:"max_tags"`
	MaxTagLength            int      `yaml:"max_tag_length"`
}

// Load reads settings from a YAML file, falling back to defaults for any
// field the file leaves zero. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings file: %w", err)
	}

	var raw fileSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("parse settings file: %w", err)
	}

	overlay := Settings{
		MaxUploadSize:           raw.MaxUploadSize,
		MaxFilenameLength:       raw.MaxFilenameLength,
		AllowedTypes:            raw.AllowedTypes,
		AnimationVideoThreshold: raw.AnimationVideoThreshold,
		DominantColorCount:      raw.DominantColorCount,
		MaxTitleLength:          raw.MaxTitleLength,
		MaxTags:                 raw.MaxTags,
		MaxTagLength:            raw.MaxTagLength,
	}
	if raw.UploadURLTTL != "" {
		ttl, err := time.ParseDuration(raw.UploadURLTTL)
		if err != nil {
			return s, fmt.Errorf("parse upload_url_ttl: %w", err)
		}
		overlay.UploadURLTTL = ttl
	}

	if overlay.MaxUploadSize > 0 {
		s.MaxUploadSize = overlay.MaxUploadSize
	}
	if overlay.MaxFilenameLength > 0 {
		s.MaxFilenameLength = overlay.MaxFilenameLength
	}
	if len(overlay.AllowedTypes) > 0 {
		s.AllowedTypes = overlay.AllowedTypes
	}
	if overlay.UploadURLTTL > 0 {
		s.UploadURLTTL = overlay.UploadURLTTL
	}
	if overlay.AnimationVideoThreshold > 0 {
		s.AnimationVideoThreshold = overlay.AnimationVideoThreshold
	}
	if overlay.DominantColorCount > 0 {
		s.DominantColorCount = overlay.DominantColorCount
	}
	if overlay.MaxTitleLength > 0 {
		s.MaxTitleLength = overlay.MaxTitleLength
	}
	if overlay.MaxTags > 0 {
		s.MaxTags = overlay.MaxTags
	}
	if overlay.MaxTagLength > 0 {
		s.MaxTagLength = overlay.MaxTagLength
	}

	return s, nil
}

func (s Settings) TypeAllowed(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, t := range s.AllowedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}
