package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
	"dealgate.io/internal/audit"
	"dealgate.io/internal/auth"
	"dealgate.io/internal/release"
	"dealgate.io/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("DEALGATE_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	recorder := audit.NewLog()
	agreements := agreement.NewInMemory(agreement.WithRecorder(recorder))
	resolver := agreement.NewResolver(agreements)
	directory := access.NewInMemoryDirectory()
	matrix := access.NewMatrix(access.NewInMemory(), resolver, directory, directory)
	ledger := release.NewLedger(release.NewInMemory(), resolver, directory)

	api := New(Deps{
		Agreements: agreements,
		Resolver:   resolver,
		Matrix:     matrix,
		Ledger:     ledger,
		Deals:      directory,
		Identities: directory,
		Recorder:   recorder,
		Stream:     stream.New(),
		Version:    "test",
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPICoverageGrantReleaseFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("demo", []string{"admin"})
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	// Register the seller-side record for Acme and sign its NDA.
	resp := api.post("/v1/organizations", map[string]any{
		"name":           "Acme Holdings",
		"primary_domain": "acme.com",
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	org := decode[map[string]any](t, resp)
	orgID := org["id"].(string)

	resp = api.post("/v1/organizations/"+orgID+"/agreements/nda/transition", map[string]any{
		"to": "sent",
	}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected transition status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/organizations/"+orgID+"/agreements/nda/transition", map[string]any{
		"to":             "signed",
		"signed_by_name": "Jane Roe",
	}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected transition status: %d", resp.StatusCode)
	}
	signed := decode[map[string]any](t, resp)
	if signed["nda_active"] != true {
		t.Fatalf("expected nda_active after signing, got %v", signed["nda_active"])
	}

	// Coverage for an acme.com address now reports NDA covered, fee not.
	resp = api.post("/v1/coverage/resolve", map[string]any{
		"email": "buyer@acme.com",
	}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected coverage status: %d", resp.StatusCode)
	}
	coverage := decode[map[string]any](t, resp)
	nda := coverage["nda"].(map[string]any)
	if nda["covered"] != true {
		t.Fatalf("expected nda coverage, got %v", nda)
	}
	fee := coverage["fee"].(map[string]any)
	if fee["covered"] == true {
		t.Fatalf("fee agreement was never signed: %v", fee)
	}

	// Provision a deal and the buyer contact's email.
	resp = api.post("/v1/deals", map[string]any{"name": "Project Kestrel"}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected deal status: %d", resp.StatusCode)
	}
	deal := decode[map[string]any](t, resp)
	dealID := deal["id"].(string)

	resp = api.post("/v1/identities", map[string]any{
		"identity": map[string]any{"contact_id": "c-100"},
		"email":    "buyer@acme.com",
	}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected identity status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Grant teaser access and read back the matrix.
	resp = api.post("/v1/deals/"+dealID+"/grants", map[string]any{
		"identity":     map[string]any{"contact_id": "c-100"},
		"capabilities": map[string]any{"teaser": true},
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected grant status: %d", resp.StatusCode)
	}
	grant := decode[map[string]any](t, resp)
	grantID := grant["id"].(string)

	resp = api.get("/v1/deals/"+dealID+"/grants", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected matrix status: %d", resp.StatusCode)
	}
	matrix := decode[map[string]any](t, resp)
	items := matrix["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one matrix row, got %d", len(items))
	}
	view := items[0].(map[string]any)
	if view["active"] != true || view["coverage_lapsed"] == true {
		t.Fatalf("unexpected matrix view: %v", view)
	}

	// A second grant for the same identity and deal is rejected.
	resp = api.post("/v1/deals/"+dealID+"/grants", map[string]any{
		"identity":     map[string]any{"contact_id": "c-100"},
		"capabilities": map[string]any{"memo": true},
	}, authHeader)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate grant, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Release a teaser document via tracked link and open it anonymously.
	resp = api.post("/v1/deals/"+dealID+"/documents", map[string]any{
		"name":     "Teaser",
		"category": "pre_disclosure_teaser",
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected document status: %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, resp)
	docID := doc["id"].(string)

	resp = api.post("/v1/links", map[string]any{
		"document_id": docID,
		"identity":    map[string]any{"contact_id": "c-100"},
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected link status: %d", resp.StatusCode)
	}
	link := decode[map[string]any](t, resp)
	linkToken := link["token"].(string)
	linkID := link["id"].(string)

	resp = api.get("/l/"+linkToken, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected public link status: %d", resp.StatusCode)
	}
	resolution := decode[map[string]any](t, resp)
	if resolution["available"] != true || resolution["document_id"] != docID {
		t.Fatalf("unexpected resolution: %v", resolution)
	}

	// The release ledger holds the issued link's entry with a frozen
	// snapshot and the recorded first open.
	resp = api.get("/v1/deals/"+dealID+"/releases", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected releases status: %d", resp.StatusCode)
	}
	releases := decode[map[string]any](t, resp)
	entries := releases["items"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}
	entry := entries[0].(map[string]any)
	snap := entry["snapshot"].(map[string]any)
	if snap["nda_status"] != "signed" {
		t.Fatalf("unexpected snapshot: %v", snap)
	}
	if entry["first_opened_at"] == nil {
		t.Fatalf("expected first open to propagate to the ledger entry")
	}

	// Revoked links fail closed.
	resp = api.post("/v1/links/"+linkID+"/revoke", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected revoke status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/l/"+linkToken, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after revocation, got %d", resp.StatusCode)
	}
	gone := decode[map[string]any](t, resp)
	if gone["available"] == true {
		t.Fatalf("revoked link resolved: %v", gone)
	}

	// The audit trail recorded the grant.
	resp = api.get("/v1/audit/events", url.Values{"action": []string{"access.grant.create"}}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected audit status: %d", resp.StatusCode)
	}
	events := decode[map[string]any](t, resp)
	if len(events["items"].([]any)) != 1 {
		t.Fatalf("expected one grant audit event")
	}

	// The grant row itself is still readable by id.
	resp = api.get("/v1/grants/"+grantID, nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected grant status: %d", resp.StatusCode)
	}
	fetched := decode[map[string]any](t, resp)
	if fetched["deal_id"] != dealID {
		t.Fatalf("grant bound to wrong deal: %v", fetched["deal_id"])
	}
}

func TestAPIInternalOnlyDocumentNeverReleases(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("demo", []string{"admin"})
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	resp := api.post("/v1/deals", map[string]any{"name": "Project Lanner"}, authHeader)
	deal := decode[map[string]any](t, resp)
	dealID := deal["id"].(string)

	resp = api.post("/v1/deals/"+dealID+"/documents", map[string]any{
		"name":     "Valuation model",
		"category": "internal_only",
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected document status: %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, resp)

	resp = api.post("/v1/deals/"+dealID+"/releases", map[string]any{
		"document_id": doc["id"].(string),
		"identity":    map[string]any{"contact_id": "c-1"},
		"method":      "direct_download",
	}, authHeader)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for internal-only release, got %d", resp.StatusCode)
	}
}

func TestAPIOverrideRequiresReason(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("demo", []string{"admin"})
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	resp := api.post("/v1/deals", map[string]any{"name": "Project Merlin"}, authHeader)
	deal := decode[map[string]any](t, resp)
	dealID := deal["id"].(string)

	resp = api.post("/v1/deals/"+dealID+"/grants", map[string]any{
		"identity":     map[string]any{"contact_id": "c-7"},
		"capabilities": map[string]any{"teaser": true},
	}, authHeader)
	grant := decode[map[string]any](t, resp)
	grantID := grant["id"].(string)

	resp = api.post("/v1/grants/"+grantID+"/override", map[string]any{
		"flag": true,
	}, authHeader)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for override without reason, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/grants/"+grantID+"/override", map[string]any{
		"flag":   true,
		"reason": "CEO approved direct disclosure",
	}, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected override status: %d", resp.StatusCode)
	}
	overridden := decode[map[string]any](t, resp)
	if overridden["override"] != true {
		t.Fatalf("expected override flag set: %v", overridden)
	}

	resp = api.get("/v1/grants/overrides", nil, authHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected overrides status: %d", resp.StatusCode)
	}
	list := decode[map[string]any](t, resp)
	if len(list["items"].([]any)) != 1 {
		t.Fatalf("expected one override in the review list")
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/organizations", map[string]any{
		"name":           "Acme",
		"primary_domain": "acme.com",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestAPIEnforcesPermissions(t *testing.T) {
	api := newTestAPI(t)

	// Seed a deal with one grant as an admin.
	admin := api.obtainToken("admin", []string{"admin"})
	adminHeader := map[string]string{"Authorization": "Bearer " + admin}
	resp := api.post("/v1/deals", map[string]any{"name": "Project Saker"}, adminHeader)
	deal := decode[map[string]any](t, resp)
	dealID := deal["id"].(string)
	resp = api.post("/v1/deals/"+dealID+"/grants", map[string]any{
		"identity":     map[string]any{"contact_id": "c-55"},
		"capabilities": map[string]any{"teaser": true},
	}, adminHeader)
	grant := decode[map[string]any](t, resp)
	grantID := grant["id"].(string)

	// A buyer-side user cannot manage agreement records.
	token := api.obtainToken("buyer", []string{"buyer_user"})
	buyerHeader := map[string]string{"Authorization": "Bearer " + token}
	resp = api.post("/v1/organizations", map[string]any{
		"name":           "Acme",
		"primary_domain": "acme.com",
	}, buyerHeader)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Nor read the review surfaces: the matrix, grants, deals, the ledger
	// and agreement records all carry holder identities.
	for _, path := range []string{
		"/v1/deals/" + dealID + "/grants",
		"/v1/grants/" + grantID,
		"/v1/deals",
		"/v1/deals/" + dealID + "/releases",
		"/v1/deals/" + dealID + "/documents",
		"/v1/organizations",
	} {
		resp = api.get(path, nil, buyerHeader)
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("GET %s: expected 403 for buyer_user, got %d", path, resp.StatusCode)
		}
	}

	// An auditor can read the audit trail and the review surfaces, but not
	// grant access.
	token = api.obtainToken("aud", []string{"auditor"})
	authHeader := map[string]string{"Authorization": "Bearer " + token}
	resp2 := api.get("/v1/audit/events", nil, authHeader)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for auditor read, got %d", resp2.StatusCode)
	}
	resp4 := api.get("/v1/deals/"+dealID+"/grants", nil, authHeader)
	defer resp4.Body.Close()
	if resp4.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for auditor matrix read, got %d", resp4.StatusCode)
	}
	resp3 := api.post("/v1/deals", map[string]any{"name": "X"}, authHeader)
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for auditor write, got %d", resp3.StatusCode)
	}
}

func TestAPIAcceptsExternalAuditEvents(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("campaign-svc", []string{"admin"})
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	resp := api.post("/v1/audit/events", map[string]any{
		"subject":    "campaign",
		"subject_id": "cmp-9",
		"action":     "campaign.teaser.sent",
		"metadata":   map[string]any{"recipients": "40"},
	}, authHeader)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected audit status: %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	if created["id"] == "" || created["actor"] != "campaign-svc" {
		t.Fatalf("entry not stamped: %v", created)
	}

	resp = api.get("/v1/audit/events", url.Values{"action": []string{"campaign.teaser.sent"}}, authHeader)
	listed := decode[map[string]any](t, resp)
	if len(listed["items"].([]any)) != 1 {
		t.Fatalf("external event not listed")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"user": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPublicLinkUnknownToken(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/l/no-such-token", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["available"] == true {
		t.Fatalf("unknown token resolved: %v", body)
	}
}
