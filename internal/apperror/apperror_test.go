package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrapPreservesTaxonomy(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrUpstreamUnavailable)

	if !Is(err, ErrUpstreamUnavailable) {
		t.Error("wrapped error lost its code")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", StatusCode(err))
	}
}

func TestWrapThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("finalize: %w", ErrTicketExpired)

	if Code(err) != "ticket_expired" {
		t.Errorf("code = %q, want ticket_expired", Code(err))
	}
	if StatusCode(err) != http.StatusGone {
		t.Errorf("status = %d, want 410", StatusCode(err))
	}
}

func TestWriteJSONUnwrapsIntermediateErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/finalize", nil)
	rec := httptest.NewRecorder()

	WriteJSON(rec, req, fmt.Errorf("finalize: %w", ErrTicketExpired))

	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != "ticket_expired" {
		t.Errorf("error code = %q, want ticket_expired", resp.Error)
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := errors.New("something low level")

	if Code(err) != ErrInternal.Code {
		t.Errorf("code = %q, want internal_error", Code(err))
	}
	if StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", StatusCode(err))
	}
	if SafeMessage(err) != ErrInternal.Message {
		t.Errorf("message = %q leaks internals", SafeMessage(err))
	}
}
