package httpapi

import (
	"net/http"
	"strings"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/auth"
	"dealgate.io/internal/obs"
	"dealgate.io/internal/stream"
)

type createDealRequest struct {
	Name string `json:"name"`
}

type identityPayload struct {
	OrgBuyerID string `json:"org_buyer_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	ContactID  string `json:"contact_id,omitempty"`
}

func (p identityPayload) ref() (access.IdentityRef, error) {
	return access.NewIdentityRef(p.OrgBuyerID, p.UserID, p.ContactID)
}

type grantRequest struct {
	Identity     identityPayload     `json:"identity"`
	Capabilities access.Capabilities `json:"capabilities"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

type capabilitiesRequest struct {
	Capabilities access.Capabilities `json:"capabilities"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type overrideRequest struct {
	Flag   bool   `json:"flag"`
	Reason string `json:"reason,omitempty"`
}

type setIdentityEmailRequest struct {
	Identity identityPayload `json:"identity"`
	Email    string          `json:"email"`
}

func (a *API) handleDeals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermAccessGrant) {
			return
		}
		var req createDealRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		deal := &access.Deal{Name: req.Name}
		if err := a.deps.Deals.CreateDeal(r.Context(), deal); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "deal.create", "deal", deal.ID, map[string]string{"name": deal.Name})
		w.Header().Set("Location", "/v1/deals/"+deal.ID)
		writeJSON(w, http.StatusCreated, deal)
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		deals, err := a.deps.Deals.ListDeals(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": deals})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleDealScoped serves the per-deal sub-resources:
//
//	POST/GET /v1/deals/{id}/grants
//	POST/GET /v1/deals/{id}/releases
//	POST/GET /v1/deals/{id}/documents
func (a *API) handleDealScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/deals/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	dealID := parts[0]
	switch parts[1] {
	case "grants":
		a.dealGrants(w, r, dealID)
	case "releases":
		a.dealReleases(w, r, dealID)
	case "documents":
		a.dealDocuments(w, r, dealID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) dealGrants(w http.ResponseWriter, r *http.Request, dealID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermAccessGrant) {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		identity, err := req.Identity.ref()
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		grant, err := a.deps.Matrix.Grant(r.Context(), access.GrantRequest{
			DealID:       dealID,
			Identity:     identity,
			Capabilities: req.Capabilities,
			GrantedBy:    actorFrom(r.Context()),
			ExpiresAt:    req.ExpiresAt,
			Metadata:     req.Metadata,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		obs.ObserveGrantAction("grant")
		a.audit(r.Context(), "access.grant.create", "grant", grant.ID, map[string]string{
			"deal_id":  dealID,
			"identity": identity.String(),
		})
		a.publish(stream.Event{
			Kind:      stream.KindGrantCreated,
			DealID:    dealID,
			Subject:   "grant",
			SubjectID: grant.ID,
			Actor:     actorFrom(r.Context()),
			Details:   map[string]string{"identity": identity.String()},
		})
		writeJSON(w, http.StatusCreated, grant)
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		views, err := a.deps.Matrix.Query(r.Context(), dealID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": views})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleGrantResource serves individual grant operations:
//
//	GET   /v1/grants/{id}
//	PATCH /v1/grants/{id}           capability toggles
//	POST  /v1/grants/{id}/revoke
//	POST  /v1/grants/{id}/override
func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	grantID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		grant, err := a.deps.Matrix.Get(r.Context(), grantID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	case len(parts) == 1 && r.Method == http.MethodPatch:
		a.updateCapabilities(w, r, grantID)
	case len(parts) == 1:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	case len(parts) == 2 && parts[1] == "revoke":
		a.revokeGrant(w, r, grantID)
	case len(parts) == 2 && parts[1] == "override":
		a.overrideGrant(w, r, grantID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) updateCapabilities(w http.ResponseWriter, r *http.Request, grantID string) {
	if !a.ensurePermission(w, r, auth.PermAccessGrant) {
		return
	}
	var req capabilitiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.deps.Matrix.UpdateCapabilities(r.Context(), grantID, req.Capabilities, actorFrom(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.ObserveGrantAction("update")
	a.audit(r.Context(), "access.grant.update", "grant", grantID, map[string]string{
		"deal_id": grant.DealID,
	})
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, grantID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAccessRevoke) {
		return
	}
	var req reasonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.deps.Matrix.Revoke(r.Context(), grantID, actorFrom(r.Context()), req.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.ObserveGrantAction("revoke")
	a.audit(r.Context(), "access.grant.revoke", "grant", grantID, map[string]string{
		"deal_id": grant.DealID,
		"reason":  req.Reason,
	})
	a.publish(stream.Event{
		Kind:      stream.KindGrantRevoked,
		DealID:    grant.DealID,
		Subject:   "grant",
		SubjectID: grantID,
		Actor:     actorFrom(r.Context()),
		Details:   map[string]string{"reason": req.Reason},
	})
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) overrideGrant(w http.ResponseWriter, r *http.Request, grantID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAccessOverride) {
		return
	}
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := a.deps.Matrix.Override(r.Context(), grantID, req.Flag, req.Reason, actorFrom(r.Context()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.ObserveGrantAction("override")
	a.audit(r.Context(), "access.grant.override", "grant", grantID, map[string]string{
		"deal_id": grant.DealID,
		"flag":    boolString(req.Flag),
		"reason":  req.Reason,
	})
	a.publish(stream.Event{
		Kind:      stream.KindGrantOverride,
		DealID:    grant.DealID,
		Subject:   "grant",
		SubjectID: grantID,
		Actor:     actorFrom(r.Context()),
		Details:   map[string]string{"flag": boolString(req.Flag), "reason": req.Reason},
	})
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAccessOverride) {
		return
	}
	grants, err := a.deps.Matrix.ListOverrides(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": grants})
}

// handleIdentities records the email address behind an identity reference so
// coverage can be resolved for grants and releases.
func (a *API) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPost, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAccessGrant) {
		return
	}
	var req setIdentityEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := req.Identity.ref()
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if err := a.deps.Identities.SetIdentityEmail(r.Context(), identity, req.Email); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"identity": identity.String(),
		"email":    req.Email,
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
