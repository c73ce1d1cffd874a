package media

import (
	"time"

	"github.com/google/uuid"

	"github.com/aperture-photos/aperture/internal/tracing"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

type SizeTier string

const (
	TierThumbnail SizeTier = "thumbnail"
	TierSmall     SizeTier = "small"
	TierRegular   SizeTier = "regular"
	TierOriginal  SizeTier = "original"
)

type Encoding string

const (
	EncodingLegacy Encoding = "legacy"
	EncodingModern Encoding = "modern"
)

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
)

type JobStatus string

const (
	// Accepted means the job row exists but its broker enqueue has not been
	// confirmed yet. A finalize retry re-enqueues jobs stuck here.
	JobStatusAccepted   JobStatus = "accepted"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// UploadTicket binds a caller to a raw object key for one finalize call.
type UploadTicket struct {
	TicketID     string
	RawObjectKey string
	IssuedTo     string
	ExpiresAt    time.Time
	Consumed     bool
}

func (t UploadTicket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ProcessingJob is the strongly-typed payload created at finalize time.
// The privilege flag is snapshotted here and never re-evaluated downstream.
type ProcessingJob struct {
	JobID        uuid.UUID    `json:"job_id"`
	TicketID     string       `json:"ticket_id"`
	RawObjectKey string       `json:"raw_object_key"`
	UploaderID   string       `json:"uploader_id"`
	IsPrivileged bool         `json:"is_privileged"`
	TitleText    string       `json:"title_text"`
	CategoryID   string       `json:"category_id"`
	LocationText string       `json:"location_text,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	CameraModel  string       `json:"camera_model,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Attempt      int          `json:"attempt"`

	Trace tracing.TraceCarrier `json:"trace"`
}

func (j *ProcessingJob) ModerationStatus() ModerationStatus {
	if j.IsPrivileged {
		return ModerationApproved
	}
	return ModerationPending
}

type Variant struct {
	SizeTier SizeTier `json:"size_tier"`
	Encoding Encoding `json:"encoding"`
	URL      string   `json:"url"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
}

type ExifFields struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	FocalLength  string `json:"focal_length,omitempty"`
	Aperture     string `json:"aperture,omitempty"`
	ShutterSpeed string `json:"shutter_speed,omitempty"`
	ISO          int    `json:"iso,omitempty"`
}

func (e *ExifFields) Empty() bool {
	if e == nil {
		return true
	}
	return e.Make == "" && e.Model == "" && e.FocalLength == "" &&
		e.Aperture == "" && e.ShutterSpeed == "" && e.ISO == 0
}

// Record is the canonical published entity. It exists iff every declared
// variant exists in the processed store.
type Record struct {
	ID               uuid.UUID
	Kind             Kind
	TitleText        string
	CategoryID       string
	LocationText     string
	Coordinates      *Coordinates
	Tags             []string
	Variants         []Variant
	DominantColors   []string
	Exif             *ExifFields
	ModerationStatus ModerationStatus
	UploaderID       string
	CreatedAt        time.Time
}

type Category struct {
	ID   string
	Name string
}
