package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"dealgate.io/internal/agreement"
	"dealgate.io/internal/auth"
	"dealgate.io/internal/stream"
)

type createOrganizationRequest struct {
	Name          string            `json:"name"`
	PrimaryDomain string            `json:"primary_domain"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type addAliasRequest struct {
	Domain string `json:"domain"`
}

type setParentRequest struct {
	ParentID string `json:"parent_id"`
}

type transitionRequest struct {
	To           string     `json:"to"`
	SignedByID   string     `json:"signed_by_id,omitempty"`
	SignedByName string     `json:"signed_by_name,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope,omitempty"`
	DealID       string     `json:"deal_id,omitempty"`
	Source       string     `json:"source,omitempty"`
	DocumentRef  string     `json:"document_ref,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type genericDomainsRequest struct {
	Domains []string `json:"domains"`
}

type individualTrackRequest struct {
	Track agreement.Track `json:"track"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrganization(w, r)
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		orgs, err := a.deps.Agreements.ListOrganizations(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org := &agreement.Organization{
		Name:          req.Name,
		PrimaryDomain: req.PrimaryDomain,
		Metadata:      req.Metadata,
	}
	if err := a.deps.Agreements.CreateOrganization(r.Context(), org); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "agreement.organization.create", "organization", org.ID, map[string]string{
		"name":           org.Name,
		"primary_domain": org.PrimaryDomain,
	})
	w.Header().Set("Location", "/v1/organizations/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	orgID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, auth.PermAccessRead) {
			return
		}
		org, err := a.deps.Agreements.Organization(r.Context(), orgID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case len(parts) == 2 && parts[1] == "aliases":
		a.addAlias(w, r, orgID)
	case len(parts) == 2 && parts[1] == "parent":
		a.setParent(w, r, orgID)
	case len(parts) == 4 && parts[1] == "agreements" && parts[3] == "transition":
		a.transition(w, r, orgID, agreement.Type(parts[2]))
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) addAlias(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	var req addAliasRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	alias := agreement.DomainAlias{Domain: domain, OrganizationID: orgID}
	if err := a.deps.Agreements.AddAlias(r.Context(), alias); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.invalidateDomains(r.Context(), domain)
	a.audit(r.Context(), "agreement.alias.add", "organization", orgID, map[string]string{
		"domain": domain,
	})
	writeJSON(w, http.StatusCreated, map[string]string{
		"domain":          domain,
		"organization_id": orgID,
	})
}

func (a *API) setParent(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPost, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	var req setParentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Agreements.SetParent(r.Context(), orgID, req.ParentID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	// A new parent link changes what the subsidiary's domains resolve to.
	a.invalidateOrgDomains(r, orgID)
	a.audit(r.Context(), "agreement.parent.set", "organization", orgID, map[string]string{
		"parent_id": req.ParentID,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"subsidiary_id": orgID,
		"parent_id":     req.ParentID,
	})
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, orgID string, t agreement.Type) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	if !t.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown agreement type %q", t))
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	org, err := a.deps.Agreements.Transition(r.Context(), orgID, t, agreement.TransitionRequest{
		To:           agreement.Status(req.To),
		ActorID:      actorFrom(r.Context()),
		ActorName:    principal.Email,
		SignedByID:   req.SignedByID,
		SignedByName: req.SignedByName,
		ExpiresAt:    req.ExpiresAt,
		Scope:        agreement.Scope(req.Scope),
		DealID:       req.DealID,
		Source:       agreement.Source(req.Source),
		DocumentRef:  req.DocumentRef,
		Notes:        req.Notes,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// Cached verdicts for every domain pointing at this organization (and at
	// subsidiaries inheriting from it) are stale now.
	a.invalidateOrgDomains(r, orgID)

	a.publish(stream.Event{
		Kind:      stream.KindAgreementTransition,
		Subject:   "organization",
		SubjectID: orgID,
		Actor:     actorFrom(r.Context()),
		Details: map[string]string{
			"agreement_type": string(t),
			"status":         string(org.TrackFor(t).Status),
		},
	})
	writeJSON(w, http.StatusOK, org)
}

// invalidateOrgDomains drops cached coverage for the organization's primary
// domain. Alias and subsidiary domains age out within the cache TTL.
func (a *API) invalidateOrgDomains(r *http.Request, orgID string) {
	if a.deps.Invalidate == nil {
		return
	}
	org, err := a.deps.Agreements.Organization(r.Context(), orgID)
	if err != nil {
		return
	}
	a.invalidateDomains(r.Context(), org.PrimaryDomain)
}

func (a *API) handleGenericDomains(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	var req genericDomainsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Domains) == 0 {
		writeError(w, r, http.StatusBadRequest, "domains are required")
		return
	}
	if err := a.deps.Agreements.AddGenericDomains(r.Context(), req.Domains...); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.invalidateDomains(r.Context(), req.Domains...)
	a.audit(r.Context(), "agreement.generic_domains.add", "blocklist", "generic", map[string]string{
		"domains": strings.Join(req.Domains, ","),
	})
	writeJSON(w, http.StatusOK, map[string]any{"added": len(req.Domains)})
}

// handleIndividualTrack manages personal agreement records for platform
// users: PUT /v1/individuals/{userID}/agreements/{type}.
func (a *API) handleIndividualTrack(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/individuals/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "agreements" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermAgreementManage) {
		return
	}
	userID, t := parts[0], agreement.Type(parts[2])
	var req individualTrackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.deps.Agreements.SetIndividualTrack(r.Context(), userID, t, req.Track); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), fmt.Sprintf("agreement.individual.%s.set", t), "user", userID, map[string]string{
		"status": string(req.Track.Status),
	})
	writeJSON(w, http.StatusOK, req.Track)
}
