package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
	"dealgate.io/internal/audit"
	"dealgate.io/internal/auth"
	"dealgate.io/internal/release"
)

const serviceName = "dealgate-api"

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.ReadyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors from any of the engine's packages to
// HTTP status codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agreement.ErrInvalidInput),
		errors.Is(err, access.ErrInvalidInput),
		errors.Is(err, release.ErrInvalidInput),
		errors.Is(err, access.ErrAmbiguousIdentity),
		errors.Is(err, access.ErrEmptyReason),
		errors.Is(err, audit.ErrInvalidEntry):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, agreement.ErrInvalidTransition):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, agreement.ErrAlreadyExists),
		errors.Is(err, access.ErrDuplicateGrant):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, release.ErrForbiddenCategory):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, access.ErrNotFound),
		errors.Is(err, release.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func actorFrom(ctx context.Context) string {
	if p, ok := auth.PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return "anonymous"
}
