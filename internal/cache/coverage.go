// Package cache provides a Redis read-through layer for coverage verdicts.
// Cached entries are derived state: every verdict can be recomputed from the
// agreement directory, so a cold or unavailable Redis only costs latency.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dealgate.io/internal/agreement"
	"dealgate.io/internal/obs"
)

const keyPrefix = "dealgate:coverage:v1:"

// DefaultTTL bounds how long a verdict may be served without recomputation.
const DefaultTTL = 30 * time.Second

// Resolver wraps the agreement resolver with a domain-keyed verdict cache.
// Only the organizational chain is cached; individual lookups are keyed by
// user and cheap enough to pass through.
type Resolver struct {
	inner *agreement.Resolver
	rdb   redis.UniversalClient
	ttl   time.Duration
	now   func() time.Time
}

// NewResolver builds a caching resolver. A zero ttl falls back to DefaultTTL.
func NewResolver(inner *agreement.Resolver, rdb redis.UniversalClient, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the cached verdict for the address's domain when fresh,
// recomputing and storing it otherwise. Redis failures degrade to a direct
// resolve.
func (r *Resolver) Resolve(ctx context.Context, email string, t agreement.Type) (agreement.Verdict, error) {
	domain, err := agreement.NormalizeDomain(email)
	if err != nil {
		return r.inner.Resolve(ctx, email, t)
	}
	key := keyPrefix + string(t) + ":" + domain

	if v, ok := r.lookup(ctx, key); ok {
		obs.ObserveCoverageCache("hit")
		return v, nil
	}
	obs.ObserveCoverageCache("miss")

	v, err := r.inner.Resolve(ctx, email, t)
	if err != nil {
		return v, err
	}
	r.store(ctx, key, v)
	return v, nil
}

// ResolveIndividual passes through to the underlying resolver.
func (r *Resolver) ResolveIndividual(ctx context.Context, userID string, t agreement.Type) (agreement.Verdict, error) {
	return r.inner.ResolveIndividual(ctx, userID, t)
}

// ResolveIdentity mirrors the underlying resolver's org-first order, using
// the cached organizational verdict.
func (r *Resolver) ResolveIdentity(ctx context.Context, userID, email string, t agreement.Type) (agreement.Verdict, error) {
	v, err := r.Resolve(ctx, email, t)
	if err != nil {
		return v, err
	}
	if v.Covered || userID == "" {
		return v, nil
	}
	individual, err := r.inner.ResolveIndividual(ctx, userID, t)
	if err != nil {
		return v, err
	}
	if individual.Covered {
		return individual, nil
	}
	return v, nil
}

// Invalidate drops cached verdicts for the given domains, both agreement
// types. Called after agreement transitions, alias changes and parent links.
// Best effort: a failed delete only means a stale read until TTL expiry.
func (r *Resolver) Invalidate(ctx context.Context, domains ...string) {
	if r.rdb == nil || len(domains) == 0 {
		return
	}
	keys := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		if d == "" {
			continue
		}
		keys = append(keys,
			keyPrefix+string(agreement.TypeNDA)+":"+d,
			keyPrefix+string(agreement.TypeFee)+":"+d,
		)
	}
	if len(keys) == 0 {
		return
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		obs.Logger().Warn().Err(err).Msg("coverage cache invalidate failed")
	}
}

func (r *Resolver) lookup(ctx context.Context, key string) (agreement.Verdict, bool) {
	if r.rdb == nil {
		return agreement.Verdict{}, false
	}
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return agreement.Verdict{}, false
	}
	if err != nil {
		obs.Logger().Warn().Err(err).Msg("coverage cache read failed")
		return agreement.Verdict{}, false
	}
	var v agreement.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return agreement.Verdict{}, false
	}
	// A verdict whose expiry has passed since it was cached must be
	// recomputed so the lapse is reflected immediately.
	if v.Covered && v.ExpiresAt != nil && !v.ExpiresAt.After(r.now()) {
		return agreement.Verdict{}, false
	}
	return v, true
}

func (r *Resolver) store(ctx context.Context, key string, v agreement.Verdict) {
	if r.rdb == nil {
		return
	}
	ttl := r.ttl
	// Never let a cached verdict outlive the agreement it reports on.
	if v.Covered && v.ExpiresAt != nil {
		if until := v.ExpiresAt.Sub(r.now()); until < ttl {
			if until <= 0 {
				return
			}
			ttl = until
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		obs.Logger().Warn().Err(err).Msg("coverage cache write failed")
	}
}
