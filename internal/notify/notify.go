package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/metrics"
)

const (
	deliveryTimeout = 30 * time.Second
	maxResponseBody = 1024
)

// Sink delivers pipeline events to an external consumer. Delivery is
// best-effort: the pipeline never blocks on, or fails because of, a sink.
type Sink interface {
	Publish(ctx context.Context, event *Event)
}

// calculateBackoff calculates exponential backoff with jitter.
// Base delay is 2 seconds, max is 2 minutes.
func calculateBackoff(attempt int) time.Duration {
	base := 2 * time.Second
	max := 2 * time.Minute

	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}

	// Add jitter: ±25%
	jitter := time.Duration(rand.Float64()*0.5-0.25) * backoff
	return backoff + jitter
}

// HTTPSink POSTs events to a single configured endpoint. Each Publish runs
// in its own goroutine and retries transient failures with backoff.
type HTTPSink struct {
	endpoint   string
	client     *http.Client
	maxRetries int
}

func NewHTTPSink(endpoint string, maxRetries int) *HTTPSink {
	return &HTTPSink{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: deliveryTimeout},
		maxRetries: maxRetries,
	}
}

func (s *HTTPSink) Publish(ctx context.Context, event *Event) {
	log := logger.FromContext(ctx).With("event_id", event.ID, "event_type", event.Type)

	payload, err := event.Marshal()
	if err != nil {
		log.Error("failed to marshal event", "error", err)
		return
	}

	// Detach from the caller's context so pipeline completion does not
	// cancel an in-flight delivery.
	go s.deliver(context.WithoutCancel(ctx), log, event, payload)
}

func (s *HTTPSink) deliver(ctx context.Context, log *slog.Logger, event *Event, payload []byte) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(calculateBackoff(attempt - 1)):
			case <-ctx.Done():
				metrics.RecordNotification(event.Type, "dropped")
				return
			}
		}

		code, err := s.post(ctx, event, payload)
		if err == nil && code >= 200 && code < 300 {
			metrics.RecordNotification(event.Type, "delivered")
			log.Info("notification delivered", "response_code", code, "attempt", attempt+1)
			return
		}
		if err != nil {
			log.Warn("notification attempt failed", "error", err, "attempt", attempt+1)
		} else {
			log.Warn("notification attempt failed", "response_code", code, "attempt", attempt+1)
		}
	}

	metrics.RecordNotification(event.Type, "dropped")
	log.Warn("notification dropped after max retries", "max_retries", s.maxRetries)
}

func (s *HTTPSink) post(ctx context.Context, event *Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", event.ID)
	req.Header.Set("X-Event-Type", event.Type)
	req.Header.Set("User-Agent", "aperture-notify/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// NopSink discards all events. Used when no endpoint is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, *Event) {}

// MemorySink records events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Publish(_ context.Context, event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MemorySink) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemorySink) EventsOfType(eventType string) []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
