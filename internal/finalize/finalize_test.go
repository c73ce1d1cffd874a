package finalize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/media"
	"github.com/aperture-photos/aperture/internal/settings"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
)

type queued struct {
	jobType string
	payload interface{}
}

type memoryBroker struct {
	mu       sync.Mutex
	enqueues []queued

	EnqueueErr error
}

func (b *memoryBroker) Enqueue(jobType string, payload interface{}) (string, error) {
	if b.EnqueueErr != nil {
		return "", b.EnqueueErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueues = append(b.enqueues, queued{jobType: jobType, payload: payload})
	return "msg-1", nil
}

func (b *memoryBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.enqueues)
}

type fixture struct {
	store   *store.MemoryStore
	broker  *memoryBroker
	objects *storage.MemoryStorage
	svc     *Service
	ticket  media.UploadTicket
	caller  Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	st.AddCategory(media.Category{ID: "landscapes", Name: "Landscapes"})

	ticketID, err := media.NewTicketID(media.KindImage, time.Now())
	if err != nil {
		t.Fatalf("NewTicketID: %v", err)
	}
	ticket := media.UploadTicket{
		TicketID:     ticketID,
		RawObjectKey: "raw/" + ticketID + "/photo.jpg",
		IssuedTo:     "user-1",
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	if err := st.CreateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	objects := storage.NewMemoryStorage()
	objects.Put(ticket.RawObjectKey, []byte("jpeg bytes"), "image/jpeg")

	b := &memoryBroker{}
	return &fixture{
		store:   st,
		broker:  b,
		objects: objects,
		svc:     NewService(st, b, objects, settings.NewStatic(settings.Defaults())),
		ticket:  ticket,
		caller:  Identity{UploaderID: "user-1"},
	}
}

func (f *fixture) request() Request {
	return Request{
		TicketID:     f.ticket.TicketID,
		RawObjectKey: f.ticket.RawObjectKey,
		Title:        "Sunset over the bay",
		Category:     "landscapes",
	}
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if resp.JobID == "" {
		t.Error("response has no job id")
	}
	if resp.ProcessingTimeHint == "" {
		t.Error("response has no processing time hint")
	}
	if f.broker.count() != 1 {
		t.Errorf("enqueue count = %d, want 1", f.broker.count())
	}

	job, status, err := f.store.GetJobByTicket(context.Background(), f.ticket.TicketID)
	if err != nil {
		t.Fatalf("job was not persisted: %v", err)
	}
	if status != media.JobStatusQueued {
		t.Errorf("job status = %q, want queued", status)
	}
	if job.JobID.String() != resp.JobID {
		t.Errorf("persisted job id %s differs from response %s", job.JobID, resp.JobID)
	}
	if job.UploaderID != "user-1" {
		t.Errorf("job uploader = %q, want user-1", job.UploaderID)
	}
	if job.CategoryID != "landscapes" {
		t.Errorf("job category = %q, want landscapes", job.CategoryID)
	}

	ticket, _ := f.store.GetTicket(context.Background(), f.ticket.TicketID)
	if !ticket.Consumed {
		t.Error("ticket was not consumed")
	}
}

func TestFinalizeDuplicateReplaysOriginal(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	second, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}

	if second.JobID != first.JobID {
		t.Errorf("replayed job id = %s, want %s", second.JobID, first.JobID)
	}
	if f.store.JobCount() != 1 {
		t.Errorf("job count = %d, want 1", f.store.JobCount())
	}
	if f.broker.count() != 1 {
		t.Errorf("enqueue count = %d, want 1", f.broker.count())
	}
}

func TestFinalizeConcurrentSameTicket(t *testing.T) {
	f := newFixture(t)

	const callers = 16
	jobIDs := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.svc.Finalize(context.Background(), f.caller, f.request())
			if err != nil {
				errs[i] = err
				return
			}
			jobIDs[i] = resp.JobID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: Finalize() error = %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if jobIDs[i] != jobIDs[0] {
			t.Errorf("caller %d got job id %s, caller 0 got %s", i, jobIDs[i], jobIDs[0])
		}
	}
	if f.store.JobCount() != 1 {
		t.Errorf("job count = %d, want 1", f.store.JobCount())
	}
	// A caller replaying inside the winner's enqueue-confirmation window may
	// enqueue a duplicate delivery; duplicates collapse downstream.
	if f.broker.count() < 1 {
		t.Errorf("enqueue count = %d, want at least 1", f.broker.count())
	}
}

func TestFinalizeRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *fixture, req *Request)
		wantCode string
	}{
		{
			name:     "malformed ticket id",
			mutate:   func(f *fixture, req *Request) { req.TicketID = "image-123-xyz; DROP TABLE" },
			wantCode: "ticket_invalid_format",
		},
		{
			name: "unknown ticket",
			mutate: func(f *fixture, req *Request) {
				req.TicketID = "image-1700000000000-deadbeef"
			},
			wantCode: "missing_ticket",
		},
		{
			name: "expired ticket",
			mutate: func(f *fixture, req *Request) {
				t := f.ticket
				t.ExpiresAt = time.Now().Add(-time.Minute)
				f.store.DeleteTicket(context.Background(), t.TicketID)
				f.store.CreateTicket(context.Background(), t)
			},
			wantCode: "ticket_expired",
		},
		{
			name:     "ticket issued to someone else",
			mutate:   func(f *fixture, req *Request) { f.caller.UploaderID = "user-2" },
			wantCode: "forbidden",
		},
		{
			name:     "raw object key mismatch",
			mutate:   func(f *fixture, req *Request) { req.RawObjectKey = "raw/" + f.ticket.TicketID + "/other.jpg" },
			wantCode: "forbidden",
		},
		{
			name:     "unknown category",
			mutate:   func(f *fixture, req *Request) { req.Category = "automobiles" },
			wantCode: "unknown_category",
		},
		{
			name:     "empty title",
			mutate:   func(f *fixture, req *Request) { req.Title = "   " },
			wantCode: "validation_failed",
		},
		{
			name: "tag too long",
			mutate: func(f *fixture, req *Request) {
				long := make([]byte, 200)
				for i := range long {
					long[i] = 'x'
				}
				req.Tags = []string{string(long)}
			},
			wantCode: "validation_failed",
		},
		{
			name: "coordinates out of range",
			mutate: func(f *fixture, req *Request) {
				req.Coordinates = &media.Coordinates{Lat: 91, Lng: 0}
			},
			wantCode: "validation_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			tt.mutate(f, &req)

			_, err := f.svc.Finalize(context.Background(), f.caller, req)
			if err == nil {
				t.Fatal("Finalize() succeeded, want error")
			}
			if apperror.Code(err) != tt.wantCode {
				t.Errorf("error code = %q, want %q", apperror.Code(err), tt.wantCode)
			}
			if f.store.JobCount() != 0 {
				t.Errorf("job count = %d, want 0", f.store.JobCount())
			}
			if f.broker.count() != 0 {
				t.Errorf("enqueue count = %d, want 0", f.broker.count())
			}
		})
	}
}

func TestFinalizeEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.broker.EnqueueErr = errors.New("redis down")

	_, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err == nil {
		t.Fatal("Finalize() succeeded, want error")
	}
	if apperror.Code(err) != "upstream_unavailable" {
		t.Errorf("error code = %q, want upstream_unavailable", apperror.Code(err))
	}
}

func TestFinalizeRetryAfterEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.broker.EnqueueErr = errors.New("redis down")

	_, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err == nil {
		t.Fatal("Finalize() succeeded, want error")
	}

	// The job row exists but the broker never saw it.
	job, status, err := f.store.GetJobByTicket(context.Background(), f.ticket.TicketID)
	if err != nil {
		t.Fatalf("GetJobByTicket: %v", err)
	}
	if status != media.JobStatusAccepted {
		t.Errorf("job status after enqueue failure = %q, want accepted", status)
	}
	if f.broker.count() != 0 {
		t.Fatalf("enqueue count = %d, want 0", f.broker.count())
	}

	f.broker.EnqueueErr = nil
	resp, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err != nil {
		t.Fatalf("retry Finalize() error = %v", err)
	}
	if resp.JobID != job.JobID.String() {
		t.Errorf("retry job id = %s, want %s", resp.JobID, job.JobID)
	}
	if f.broker.count() != 1 {
		t.Errorf("enqueue count after retry = %d, want 1", f.broker.count())
	}

	_, status, err = f.store.GetJobByTicket(context.Background(), f.ticket.TicketID)
	if err != nil {
		t.Fatalf("GetJobByTicket: %v", err)
	}
	if status != media.JobStatusQueued {
		t.Errorf("job status after retry = %q, want queued", status)
	}
}

func TestFinalizeRejectsMissingUpload(t *testing.T) {
	f := newFixture(t)
	if err := f.objects.Delete(context.Background(), f.ticket.RawObjectKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err == nil {
		t.Fatal("Finalize() succeeded, want error")
	}
	if apperror.Code(err) != "validation_failed" {
		t.Errorf("error code = %q, want validation_failed", apperror.Code(err))
	}

	// The ticket survives, so the client can upload and call again.
	ticket, err := f.store.GetTicket(context.Background(), f.ticket.TicketID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if ticket.Consumed {
		t.Error("ticket was consumed by a rejected finalize")
	}

	f.objects.Put(f.ticket.RawObjectKey, []byte("jpeg bytes"), "image/jpeg")
	if _, err := f.svc.Finalize(context.Background(), f.caller, f.request()); err != nil {
		t.Fatalf("Finalize() after upload error = %v", err)
	}
}

func TestFinalizeStorageProbeFailure(t *testing.T) {
	f := newFixture(t)
	f.objects.ExistsErr = errors.New("storage down")

	_, err := f.svc.Finalize(context.Background(), f.caller, f.request())
	if err == nil {
		t.Fatal("Finalize() succeeded, want error")
	}
	if apperror.Code(err) != "upstream_unavailable" {
		t.Errorf("error code = %q, want upstream_unavailable", apperror.Code(err))
	}

	ticket, _ := f.store.GetTicket(context.Background(), f.ticket.TicketID)
	if ticket.Consumed {
		t.Error("ticket was consumed while storage was unavailable")
	}
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{" sunset ", "beach"})
	if len(got) != 2 || got[0] != "sunset" || got[1] != "beach" {
		t.Errorf("normalizeTags = %v, want [sunset beach]", got)
	}
	if normalizeTags(nil) != nil {
		t.Error("normalizeTags(nil) != nil")
	}
}
