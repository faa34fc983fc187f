// Package httpapi is the HTTP surface of the access control engine.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
	"dealgate.io/internal/audit"
	"dealgate.io/internal/obs"
	"dealgate.io/internal/release"
	"dealgate.io/internal/stream"
)

// ReadyProbe reports whether the backing store can be reached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// CoverageResolver is the coverage lookup surface the API exposes. Satisfied
// by the agreement resolver and its caching wrapper.
type CoverageResolver interface {
	Resolve(ctx context.Context, email string, t agreement.Type) (agreement.Verdict, error)
	ResolveIdentity(ctx context.Context, userID, email string, t agreement.Type) (agreement.Verdict, error)
}

// Deps carries the collaborators the API serves.
type Deps struct {
	Agreements agreement.Store
	Resolver   CoverageResolver
	Matrix     *access.Matrix
	Ledger     *release.Ledger
	Deals      access.DealStore
	Identities access.IdentityStore
	Recorder   audit.Recorder
	Stream     *stream.Stream

	// Invalidate drops cached coverage verdicts for the given domains after
	// an agreement mutation. Nil when no cache is wired.
	Invalidate func(ctx context.Context, domains ...string)

	ReadyProbe ReadyProbe
	Version    string
	TokenTTL   time.Duration
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
}

func New(deps Deps) *API {
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = 15 * time.Minute
	}
	a := &API{
		mux:  http.NewServeMux(),
		deps: deps,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// coverage
	a.mux.HandleFunc("/v1/coverage/resolve", a.handleCoverageResolve)
	a.mux.HandleFunc("/v1/coverage/me", a.handleCoverageMe)

	// agreement records
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/generic-domains", a.handleGenericDomains)
	a.mux.HandleFunc("/v1/individuals/", a.handleIndividualTrack)

	// deals, documents, grants, releases
	a.mux.HandleFunc("/v1/deals", a.handleDeals)
	a.mux.HandleFunc("/v1/deals/", a.handleDealScoped)
	a.mux.HandleFunc("/v1/grants/overrides", a.handleOverrides)
	a.mux.HandleFunc("/v1/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/identities", a.handleIdentities)

	// tracked links
	a.mux.HandleFunc("/v1/links", a.handleLinks)
	a.mux.HandleFunc("/v1/links/", a.handleLinkResource)
	a.mux.HandleFunc("/l/", a.handlePublicLink)

	// audit + live timeline
	a.mux.HandleFunc("/v1/audit/events", a.handleAuditEvents)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler: metrics instrumentation
// outermost, then request ids, logging and authentication.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// audit appends an entry for a handler-level mutation. Audit failure is
// logged, never surfaced to the client: the mutation already happened.
func (a *API) audit(ctx context.Context, action, subject, subjectID string, metadata map[string]string) {
	if a.deps.Recorder == nil {
		return
	}
	actor := actorFrom(ctx)
	entry := &audit.Entry{
		Subject:   subject,
		SubjectID: subjectID,
		Action:    action,
		Actor:     actor,
		Metadata:  metadata,
	}
	if err := a.deps.Recorder.Append(ctx, entry); err != nil {
		obs.Logger().Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

func (a *API) publish(evt stream.Event) {
	if a.deps.Stream != nil {
		a.deps.Stream.Publish(evt)
	}
}

func (a *API) invalidateDomains(ctx context.Context, domains ...string) {
	if a.deps.Invalidate != nil {
		a.deps.Invalidate(ctx, domains...)
	}
}
