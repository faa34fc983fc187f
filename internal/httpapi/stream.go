package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"dealgate.io/internal/audit"
	"dealgate.io/internal/auth"
)

// Stream handles Server-Sent Events for agreement and access changes.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.deps.Stream.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	dealFilter := r.URL.Query().Get("deal_id")
	for event := range ch {
		if dealFilter != "" && event.DealID != dealFilter {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

type auditEventRequest struct {
	Subject   string            `json:"subject"`
	SubjectID string            `json:"subject_id"`
	Action    string            `json:"action"`
	Before    map[string]string `json:"before,omitempty"`
	After     map[string]string `json:"after,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// handleAuditEvents serves the compliance read view of the audit log and
// accepts cross-system events from trusted collaborators.
func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAuditRead) {
			return
		}
		entries, err := a.deps.Recorder.List(r.Context(), auditFilterFrom(r.URL.Query()))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermAuditWrite) {
			return
		}
		var req auditEventRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entry := &audit.Entry{
			Subject:   req.Subject,
			SubjectID: req.SubjectID,
			Action:    req.Action,
			Before:    req.Before,
			After:     req.After,
			Actor:     actorFrom(r.Context()),
			Metadata:  req.Metadata,
		}
		if err := a.deps.Recorder.Append(r.Context(), entry); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func auditFilterFrom(q url.Values) audit.Filter {
	filter := audit.Filter{
		Subject:   q.Get("subject"),
		SubjectID: q.Get("subject_id"),
		Action:    q.Get("action"),
		Actor:     q.Get("actor"),
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	return filter
}
