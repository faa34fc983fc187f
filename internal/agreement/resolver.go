package agreement

import (
	"context"
	"errors"
	"time"
)

// Resolver answers the question at the center of the engine: does this email
// (or this individual identity) currently have an effective agreement of the
// given type, and through what chain.
//
// The lookup order is load-bearing. The generic-domain blocklist is checked
// before any organization lookup so a free-mail alias can never inherit firm
// coverage, and a direct match is evaluated before parent inheritance so a
// subsidiary's own signed agreement always wins over its parent's.
type Resolver struct {
	dir Directory
	now func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver builds a Resolver over a Directory.
func NewResolver(dir Directory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve produces a coverage verdict for an email address. "No coverage" is
// a normal verdict, never an error; an error indicates the backing store was
// unavailable.
func (r *Resolver) Resolve(ctx context.Context, email string, t Type) (Verdict, error) {
	none := Verdict{Covered: false, Source: CoverageNone}
	if !t.Valid() {
		return none, ErrInvalidInput
	}

	domain, err := NormalizeDomain(email)
	if err != nil {
		// Unparseable address means no organizational coverage is possible.
		return none, nil
	}

	generic, err := r.dir.IsGenericDomain(ctx, domain)
	if err != nil {
		return none, err
	}
	if generic {
		return none, nil
	}

	org, viaAlias, err := r.dir.OrganizationByDomain(ctx, domain)
	if errors.Is(err, ErrNotFound) {
		return none, nil
	}
	if err != nil {
		return none, err
	}

	now := r.now()
	source := CoverageDirect
	if viaAlias {
		source = CoverageDomainAlias
	}
	direct := r.verdict(org, t, source, now)
	if direct.Covered {
		return direct, nil
	}

	// Parent inheritance: only consulted when the subsidiary's own track does
	// not establish coverage.
	parent, ok, err := r.dir.ParentOf(ctx, org.ID)
	if err != nil {
		return none, err
	}
	if ok {
		if generic, err := r.dir.IsGenericDomain(ctx, parent.PrimaryDomain); err != nil {
			return none, err
		} else if !generic {
			inherited := r.verdict(parent, t, CoveragePEParent, now)
			if inherited.Covered {
				inherited.OrganizationID = org.ID
				inherited.OrganizationName = org.Name
				inherited.ParentOrganizationName = parent.Name
				return inherited, nil
			}
		}
	}
	return direct, nil
}

// ResolveIndividual consults a platform user's personal agreement fields.
// This is the distinct lookup callers use when no organizational coverage
// resolves; it is keyed by internal identity, not by domain.
func (r *Resolver) ResolveIndividual(ctx context.Context, userID string, t Type) (Verdict, error) {
	none := Verdict{Covered: false, Source: CoverageNone}
	if userID == "" || !t.Valid() {
		return none, ErrInvalidInput
	}
	track, ok, err := r.dir.IndividualTrack(ctx, userID, t)
	if err != nil {
		return none, err
	}
	if !ok {
		return none, nil
	}
	now := r.now()
	return Verdict{
		Covered:      CoveredAt(track, now),
		Source:       CoverageIndividual,
		Status:       EffectiveStatus(track, now),
		SignedByName: track.SignedByName,
		SignedAt:     track.SignedAt,
		ExpiresAt:    track.ExpiresAt,
	}, nil
}

// ResolveIdentity resolves coverage for an authenticated caller: the
// organizational chain first, falling back to the individual track.
func (r *Resolver) ResolveIdentity(ctx context.Context, userID, email string, t Type) (Verdict, error) {
	v, err := r.Resolve(ctx, email, t)
	if err != nil {
		return v, err
	}
	if v.Covered || userID == "" {
		return v, nil
	}
	individual, err := r.ResolveIndividual(ctx, userID, t)
	if err != nil {
		return v, err
	}
	if individual.Covered {
		return individual, nil
	}
	return v, nil
}

func (r *Resolver) verdict(org Organization, t Type, source CoverageSource, now time.Time) Verdict {
	track := org.TrackFor(t)
	return Verdict{
		Covered:          CoveredAt(track, now),
		Source:           source,
		OrganizationID:   org.ID,
		OrganizationName: org.Name,
		Status:           EffectiveStatus(track, now),
		SignedByName:     track.SignedByName,
		SignedAt:         track.SignedAt,
		ExpiresAt:        track.ExpiresAt,
	}
}
