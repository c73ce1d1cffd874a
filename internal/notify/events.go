package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventMediaPublished = "media.published"
	EventMediaFailed    = "media.failed"
)

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type MediaPublishedData struct {
	MediaID    string   `json:"media_id"`
	TicketID   string   `json:"ticket_id"`
	UploaderID string   `json:"uploader_id"`
	Kind       string   `json:"kind"`
	Variants   []string `json:"variants"`
}

type MediaFailedData struct {
	TicketID     string `json:"ticket_id"`
	JobID        string `json:"job_id"`
	UploaderID   string `json:"uploader_id"`
	Reason       string `json:"reason"`
	ErrorMessage string `json:"error_message"`
}

func NewEvent(eventType string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

func NewMediaPublishedEvent(mediaID, ticketID, uploaderID, kind string, variants []string) (*Event, error) {
	return NewEvent(EventMediaPublished, MediaPublishedData{
		MediaID:    mediaID,
		TicketID:   ticketID,
		UploaderID: uploaderID,
		Kind:       kind,
		Variants:   variants,
	})
}

func NewMediaFailedEvent(ticketID, jobID, uploaderID, reason, errorMessage string) (*Event, error) {
	return NewEvent(EventMediaFailed, MediaFailedData{
		TicketID:     ticketID,
		JobID:        jobID,
		UploaderID:   uploaderID,
		Reason:       reason,
		ErrorMessage: errorMessage,
	})
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
