package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func grantReq(dealID string, identity IdentityRef) GrantRequest {
	return GrantRequest{
		DealID:       dealID,
		Identity:     identity,
		Capabilities: Capabilities{Teaser: true},
		GrantedBy:    "op-1",
	}
}

func TestNewIdentityRefExactlyOne(t *testing.T) {
	if _, err := NewIdentityRef("", "", ""); !errors.Is(err, ErrAmbiguousIdentity) {
		t.Fatalf("expected ErrAmbiguousIdentity for zero refs, got %v", err)
	}
	if _, err := NewIdentityRef("buyer-1", "user-2", ""); !errors.Is(err, ErrAmbiguousIdentity) {
		t.Fatalf("expected ErrAmbiguousIdentity for two refs, got %v", err)
	}
	ref, err := NewIdentityRef("", "user-2", "")
	if err != nil {
		t.Fatalf("NewIdentityRef: %v", err)
	}
	if ref.Kind != KindPlatformUser || ref.ID != "user-2" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestGrantDuplicateRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	identity := Contact("contact-7")

	first, err := s.Grant(ctx, grantReq("deal-1", identity))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := s.Grant(ctx, grantReq("deal-1", identity)); !errors.Is(err, ErrDuplicateGrant) {
		t.Fatalf("expected ErrDuplicateGrant, got %v", err)
	}

	// Same identity on a different deal is a separate slot.
	if _, err := s.Grant(ctx, grantReq("deal-2", identity)); err != nil {
		t.Fatalf("Grant on second deal: %v", err)
	}

	grants, err := s.ListByDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("ListByDeal: %v", err)
	}
	if len(grants) != 1 || grants[0].ID != first.ID {
		t.Fatalf("duplicate call must not create a row: %+v", grants)
	}
}

func TestGrantAfterRevokeOrExpiry(t *testing.T) {
	now := time.Now().UTC()
	clock := now
	s := NewInMemory(WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	identity := PlatformUser("user-1")

	g, err := s.Grant(ctx, grantReq("deal-1", identity))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := s.Revoke(ctx, g.ID, "op-2", "deal closed"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Revocation frees the uniqueness slot.
	if _, err := s.Grant(ctx, grantReq("deal-1", identity)); err != nil {
		t.Fatalf("Grant after revoke: %v", err)
	}

	// An expired grant also frees the slot at read time.
	expiry := clock.Add(time.Minute)
	other := Contact("c-9")
	if _, err := s.Grant(ctx, GrantRequest{DealID: "deal-1", Identity: other, GrantedBy: "op-1", ExpiresAt: &expiry}); err != nil {
		t.Fatalf("Grant with expiry: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := s.Grant(ctx, grantReq("deal-1", other)); err != nil {
		t.Fatalf("Grant after expiry: %v", err)
	}
}

func TestRevokeKeepsRow(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g, err := s.Grant(ctx, grantReq("deal-1", Contact("c-1")))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	revoked, err := s.Revoke(ctx, g.ID, "op-2", "terms breached")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.RevokedAt == nil || revoked.RevokedBy != "op-2" {
		t.Fatalf("revocation state not recorded: %+v", revoked)
	}
	got, err := s.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("revoked row must survive: %v", err)
	}
	if got.ActiveAt(time.Now()) {
		t.Fatal("revoked grant reported active")
	}
}

func TestOverrideRequiresReason(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	g, _ := s.Grant(ctx, grantReq("deal-1", Contact("c-1")))

	if _, err := s.Override(ctx, g.ID, true, "  ", "admin-1"); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
	got, err := s.Override(ctx, g.ID, true, "manual exception approved by legal", "admin-1")
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if !got.Override || got.OverrideReason == "" || got.OverriddenAt == nil {
		t.Fatalf("override state not recorded: %+v", got)
	}

	overrides, err := s.ListOverrides(ctx)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(overrides) != 1 || overrides[0].ID != g.ID {
		t.Fatalf("override not queryable: %+v", overrides)
	}
}

func TestConcurrentGrantsSingleWinner(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	identity := OrganizationBuyer("buyer-3")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, dups int
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Grant(ctx, grantReq("deal-1", identity))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicateGrant):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || dups != 31 {
		t.Fatalf("expected exactly one winner, got wins=%d dups=%d", wins, dups)
	}
}
