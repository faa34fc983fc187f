package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dealgate.io/internal/auth"
	"dealgate.io/internal/obs"
	"dealgate.io/internal/release"
	"dealgate.io/internal/stream"
)

type addDocumentRequest struct {
	Name     string           `json:"name"`
	Category release.Category `json:"category"`
}

type recordReleaseRequest struct {
	DocumentID string          `json:"document_id,omitempty"`
	Identity   identityPayload `json:"identity"`
	Method     release.Method  `json:"method"`
}

type issueLinkRequest struct {
	DocumentID string          `json:"document_id"`
	Identity   identityPayload `json:"identity"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func (a *API) dealDocuments(w http.ResponseWriter, r *http.Request, dealID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermReleaseRecord) {
			return
		}
		var req addDocumentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		doc := &release.Document{
			DealID:   dealID,
			Name:     req.Name,
			Category: req.Category,
		}
		if err := a.deps.Ledger.AddDocument(r.Context(), doc); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "release.document.add", "document", doc.ID, map[string]string{
			"deal_id":  dealID,
			"category": string(doc.Category),
		})
		writeJSON(w, http.StatusCreated, doc)
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		docs, err := a.deps.Ledger.DocumentsByDeal(r.Context(), dealID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) dealReleases(w http.ResponseWriter, r *http.Request, dealID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermReleaseRecord) {
			return
		}
		var req recordReleaseRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		identity, err := req.Identity.ref()
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		entry, err := a.deps.Ledger.RecordRelease(r.Context(), release.ReleaseRequest{
			DealID:     dealID,
			DocumentID: req.DocumentID,
			Identity:   identity,
			Method:     req.Method,
			ReleasedBy: actorFrom(r.Context()),
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		obs.ObserveRelease(string(entry.Method))
		a.audit(r.Context(), "release.record", "release", entry.ID, map[string]string{
			"deal_id":  dealID,
			"identity": identity.String(),
			"method":   string(entry.Method),
		})
		a.publish(stream.Event{
			Kind:      stream.KindReleaseRecorded,
			DealID:    dealID,
			Subject:   "release",
			SubjectID: entry.ID,
			Actor:     actorFrom(r.Context()),
			Details: map[string]string{
				"identity": identity.String(),
				"method":   string(entry.Method),
			},
		})
		writeJSON(w, http.StatusCreated, entry)
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		entries, err := a.deps.Ledger.EntriesByDeal(r.Context(), dealID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermReleaseRecord) {
		return
	}
	var req issueLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := req.Identity.ref()
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	link, err := a.deps.Ledger.IssueLink(r.Context(), release.LinkRequest{
		DocumentID: req.DocumentID,
		Identity:   identity,
		ExpiresAt:  req.ExpiresAt,
		IssuedBy:   actorFrom(r.Context()),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "release.link.issue", "link", link.ID, map[string]string{
		"document_id": req.DocumentID,
		"identity":    identity.String(),
	})
	writeJSON(w, http.StatusCreated, link)
}

// handleLinkResource serves GET /v1/links/{id} and POST /v1/links/{id}/revoke.
func (a *API) handleLinkResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/links/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if parts[0] == "" || len(parts) != 2 || parts[1] != "revoke" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAccessRevoke) {
		return
	}
	link, err := a.deps.Ledger.RevokeLink(r.Context(), parts[0], actorFrom(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "release.link.revoke", "link", link.ID, map[string]string{
		"document_id": link.DocumentID,
	})
	writeJSON(w, http.StatusOK, link)
}

// handlePublicLink is the anonymous token endpoint behind every tracked
// link. It never distinguishes unknown, revoked and expired tokens.
func (a *API) handlePublicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/l/")
	if token == "" || strings.Contains(token, "/") {
		writeJSON(w, http.StatusNotFound, release.Resolution{Available: false})
		return
	}
	res, err := a.deps.Ledger.ResolveLink(r.Context(), token)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !res.Available {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	obs.ObserveLinkOpen()
	a.publish(stream.Event{
		Kind:      stream.KindLinkOpened,
		DealID:    res.DealID,
		Subject:   "document",
		SubjectID: res.DocumentID,
		Actor:     "anonymous",
	})
	writeJSON(w, http.StatusOK, res)
}
