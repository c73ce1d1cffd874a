package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/finalize"
	"github.com/aperture-photos/aperture/internal/intent"
)

const maxRequestBody = 64 * 1024

func (rt *Router) handleUploadIntent(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetIdentity(r.Context())
	if !ok {
		apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
		return
	}

	var req intent.Request
	if err := decodeStrict(r, &req); err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	resp, err := rt.intent.Issue(r.Context(), caller.UploaderID, req)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (rt *Router) handleFinalize(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetIdentity(r.Context())
	if !ok {
		apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
		return
	}

	var req finalize.Request
	if err := decodeStrict(r, &req); err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}

	resp, err := rt.finalize.Finalize(r.Context(), caller, req)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// decodeStrict rejects unknown fields and type mismatches outright: a
// loosely-typed payload is a client bug, never something to coerce.
func decodeStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return apperror.WrapWithMessage(err, apperror.ErrValidationFailed.Code,
			"Request body is not valid JSON for this endpoint",
			apperror.ErrValidationFailed.StatusCode)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperror.WrapWithMessage(err, apperror.ErrValidationFailed.Code,
			"Request body must contain a single JSON object",
			apperror.ErrValidationFailed.StatusCode)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
