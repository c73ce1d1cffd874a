package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/job-queue/pkg/job"
	"github.com/google/uuid"

	"github.com/aperture-photos/aperture/internal/cache"
	"github.com/aperture-photos/aperture/internal/finalize"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/notify"
	"github.com/aperture-photos/aperture/internal/publish"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
	"github.com/aperture-photos/aperture/internal/transform"
)

type env struct {
	store   *store.MemoryStore
	storage *storage.MemoryStorage
	sink    *notify.MemorySink
	pool    *transform.Pool
	handler func(context.Context, *job.Job) error
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st := store.NewMemoryStore()
	objects := storage.NewMemoryStorage()
	sink := notify.NewMemorySink()
	pool := transform.NewPool(transform.New(transform.DefaultConfig()), 2, 8)
	pool.Start()
	t.Cleanup(pool.Stop)

	pub := publish.New(objects, st, cache.NewMemoryInvalidator(), sink)
	deps := &Dependencies{
		Store:            st,
		Storage:          objects,
		Pool:             pool,
		Publisher:        pub,
		Sink:             sink,
		Settings:         settings.NewStatic(settings.Defaults()),
		DownloadTimeout:  5 * time.Second,
		TransformTimeout: 30 * time.Second,
		MaxAttempts:      3,
	}

	return &env{
		store:   st,
		storage: objects,
		sink:    sink,
		pool:    pool,
		handler: MediaIngestHandler(deps),
	}
}

// seedJob creates a queued job row plus its raw upload and returns the queue
// message a broker would deliver for it.
func (e *env) seedJob(t *testing.T, title string, raw []byte) (*media.ProcessingJob, *job.Job) {
	t.Helper()

	ticketID, err := media.NewTicketID(media.KindImage, time.Now())
	if err != nil {
		t.Fatalf("NewTicketID: %v", err)
	}
	payload := &media.ProcessingJob{
		JobID:        uuid.New(),
		TicketID:     ticketID,
		RawObjectKey: "raw/" + ticketID + "/photo.jpg",
		UploaderID:   "user-1",
		TitleText:    title,
		CategoryID:   "landscapes",
	}
	if err := e.store.CreateJob(context.Background(), *payload); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if raw != nil {
		e.storage.Put(payload.RawObjectKey, raw, "image/jpeg")
	}

	msg, err := job.New(finalize.JobTypeMediaIngest, payload)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return payload, msg
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestMediaIngest(t *testing.T) {
	e := newEnv(t)
	payload, msg := e.seedJob(t, "Harbor at dawn", testJPEG(t, 800, 600))

	if err := e.handler(context.Background(), msg); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	status, ok := e.store.JobStatus(payload.TicketID)
	if !ok || status != media.JobStatusCompleted {
		t.Errorf("job status = %q, want completed", status)
	}

	rec, err := e.store.GetRecord(context.Background(), payload.JobID)
	if err != nil {
		t.Fatalf("record was not published: %v", err)
	}
	if rec.TitleText != "Harbor at dawn" {
		t.Errorf("record title = %q", rec.TitleText)
	}
	if rec.Kind != media.KindImage {
		t.Errorf("record kind = %q, want image", rec.Kind)
	}
	if len(rec.Variants) != 7 {
		t.Errorf("variant count = %d, want 7", len(rec.Variants))
	}

	if _, exists := e.storage.GetData(payload.RawObjectKey); exists {
		t.Error("raw object survived a completed ingest")
	}
	if got := e.sink.EventsOfType(notify.EventMediaPublished); len(got) != 1 {
		t.Errorf("published events = %d, want 1", len(got))
	}
}

func TestMediaIngestCorruptInput(t *testing.T) {
	e := newEnv(t)
	payload, msg := e.seedJob(t, "not really a photo", []byte("these bytes are not an image at all"))

	err := e.handler(context.Background(), msg)
	if err == nil {
		t.Fatal("handler succeeded on corrupt input")
	}

	status, _ := e.store.JobStatus(payload.TicketID)
	if status != media.JobStatusFailed {
		t.Errorf("job status = %q, want failed", status)
	}
	if n, _ := e.store.CountRecords(context.Background()); n != 0 {
		t.Errorf("record count = %d, want 0", n)
	}
	// The raw object stays for inspection.
	if _, exists := e.storage.GetData(payload.RawObjectKey); !exists {
		t.Error("raw object was deleted on permanent failure")
	}
	if got := e.sink.EventsOfType(notify.EventMediaFailed); len(got) != 1 {
		t.Errorf("failed events = %d, want 1", len(got))
	}
	if got := e.sink.EventsOfType(notify.EventMediaPublished); len(got) != 0 {
		t.Errorf("published events = %d, want 0", len(got))
	}
}

func TestMediaIngestMissingRawObject(t *testing.T) {
	e := newEnv(t)
	payload, msg := e.seedJob(t, "vanished", nil)

	err := e.handler(context.Background(), msg)
	if err == nil {
		t.Fatal("handler succeeded with no raw object")
	}

	status, _ := e.store.JobStatus(payload.TicketID)
	if status != media.JobStatusFailed {
		t.Errorf("job status = %q, want failed", status)
	}
	if got := e.sink.EventsOfType(notify.EventMediaFailed); len(got) != 1 {
		t.Errorf("failed events = %d, want 1", len(got))
	}
}

func TestMediaIngestRedelivery(t *testing.T) {
	e := newEnv(t)
	payload, msg := e.seedJob(t, "seen before", testJPEG(t, 320, 240))

	if err := e.handler(context.Background(), msg); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}

	// The broker delivers the same message again, for example after a worker
	// died between publish and ack. The record already exists; the handler
	// must settle without duplicating anything.
	e.storage.Put(payload.RawObjectKey, testJPEG(t, 320, 240), "image/jpeg")
	if err := e.handler(context.Background(), msg); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}

	if n, _ := e.store.CountRecords(context.Background()); n != 1 {
		t.Errorf("record count = %d, want 1", n)
	}
	status, _ := e.store.JobStatus(payload.TicketID)
	if status != media.JobStatusCompleted {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestMediaIngestConcurrentJobs(t *testing.T) {
	e := newEnv(t)

	const jobs = 50
	payloads := make([]*media.ProcessingJob, jobs)
	msgs := make([]*job.Job, jobs)
	for i := 0; i < jobs; i++ {
		payloads[i], msgs[i] = e.seedJob(t, fmt.Sprintf("photo %02d", i), testJPEG(t, 200, 150))
	}

	errs := make([]error, jobs)
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.handler(context.Background(), msgs[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("job %d: handler error = %v", i, err)
		}
	}
	if n, _ := e.store.CountRecords(context.Background()); n != jobs {
		t.Errorf("record count = %d, want %d", n, jobs)
	}
	for i, p := range payloads {
		rec, err := e.store.GetRecord(context.Background(), p.JobID)
		if err != nil {
			t.Fatalf("job %d: record missing: %v", i, err)
		}
		want := fmt.Sprintf("photo %02d", i)
		if rec.TitleText != want {
			t.Errorf("job %d: title = %q, want %q", i, rec.TitleText, want)
		}
	}
}

// An infrastructure failure is retried through broker redelivery, but the
// delivery that hits the attempt limit settles the job and notifies; the
// uploader never ends up waiting on a job nothing will touch again.
func TestMediaIngestExhaustedRetriesSettleJob(t *testing.T) {
	e := newEnv(t)
	payload, msg := e.seedJob(t, "stormy weather", testJPEG(t, 320, 240))
	e.storage.DownloadErr = fmt.Errorf("connection reset")

	// Attempts 1 and 2 hand the job back to the broker.
	for attempt := 1; attempt <= 2; attempt++ {
		if err := e.handler(context.Background(), msg); err == nil {
			t.Fatalf("attempt %d: handler succeeded, want retryable error", attempt)
		}
		status, _ := e.store.JobStatus(payload.TicketID)
		if status != media.JobStatusProcessing {
			t.Fatalf("attempt %d: job status = %q, want processing", attempt, status)
		}
		if got := e.sink.EventsOfType(notify.EventMediaFailed); len(got) != 0 {
			t.Fatalf("attempt %d: failed events = %d, want 0", attempt, len(got))
		}
	}

	// The third and final attempt settles.
	if err := e.handler(context.Background(), msg); err == nil {
		t.Fatal("final attempt: handler succeeded, want permanent error")
	}
	status, _ := e.store.JobStatus(payload.TicketID)
	if status != media.JobStatusFailed {
		t.Errorf("job status = %q, want failed", status)
	}
	if got := e.sink.EventsOfType(notify.EventMediaFailed); len(got) != 1 {
		t.Errorf("failed events = %d, want 1", len(got))
	}
	if got := e.sink.EventsOfType(notify.EventMediaPublished); len(got) != 0 {
		t.Errorf("published events = %d, want 0", len(got))
	}
}

func TestMediaIngestInvalidPayload(t *testing.T) {
	e := newEnv(t)

	msg, err := job.New(finalize.JobTypeMediaIngest, map[string]interface{}{"job_id": "not-a-uuid"})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := e.handler(context.Background(), msg); err == nil {
		t.Error("handler accepted an undecodable payload")
	}
}
