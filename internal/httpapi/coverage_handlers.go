package httpapi

import (
	"net/http"
	"strings"

	"dealgate.io/internal/agreement"
	"dealgate.io/internal/auth"
	"dealgate.io/internal/obs"
)

type resolveRequest struct {
	Email string `json:"email"`
	// UserID enables the individual-agreement fallback for platform users.
	UserID string `json:"user_id,omitempty"`
	// Type restricts the lookup to one agreement track; empty resolves both.
	Type string `json:"type,omitempty"`
}

type resolveResponse struct {
	Email string             `json:"email"`
	NDA   *agreement.Verdict `json:"nda,omitempty"`
	Fee   *agreement.Verdict `json:"fee,omitempty"`
}

// handleCoverageResolve answers "is this email covered" for deal-team tooling
// and automated campaign collaborators.
func (a *API) handleCoverageResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	types, err := requestedTypes(req.Type)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := resolveResponse{Email: email}
	for _, t := range types {
		v, err := a.deps.Resolver.ResolveIdentity(r.Context(), strings.TrimSpace(req.UserID), email, t)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		obs.ObserveCoverage(string(t), string(v.Source), v.Covered)
		verdict := v
		if t == agreement.TypeFee {
			resp.Fee = &verdict
		} else {
			resp.NDA = &verdict
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCoverageMe resolves coverage for the authenticated caller.
func (a *API) handleCoverageMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok || principal.Email == "" {
		writeError(w, r, http.StatusBadRequest, "authenticated email is required")
		return
	}

	types, err := requestedTypes(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := resolveResponse{Email: principal.Email}
	for _, t := range types {
		v, err := a.deps.Resolver.ResolveIdentity(r.Context(), principal.UserID, principal.Email, t)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		obs.ObserveCoverage(string(t), string(v.Source), v.Covered)
		verdict := v
		if t == agreement.TypeFee {
			resp.Fee = &verdict
		} else {
			resp.NDA = &verdict
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestedTypes(raw string) ([]agreement.Type, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return []agreement.Type{agreement.TypeNDA, agreement.TypeFee}, nil
	}
	t := agreement.Type(raw)
	if !t.Valid() {
		return nil, agreement.ErrInvalidInput
	}
	return []agreement.Type{t}, nil
}
