package release

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealgate.io/internal/access"
	"dealgate.io/internal/agreement"
)

type fakeEmails map[string]string

func (e fakeEmails) EmailFor(ctx context.Context, ref access.IdentityRef) (string, bool, error) {
	email, ok := e[ref.Key()]
	return email, ok, nil
}

func newTestLedger(t *testing.T, agreements *agreement.InMemory, emails fakeEmails) (*Ledger, *InMemory) {
	t.Helper()
	store := NewInMemory()
	var resolver *agreement.Resolver
	if agreements != nil {
		resolver = agreement.NewResolver(agreements)
	}
	return NewLedger(store, resolver, emails), store
}

func addDoc(t *testing.T, l *Ledger, dealID string, category Category) Document {
	t.Helper()
	doc := Document{DealID: dealID, Name: "CIM v3", Category: category, CurrentVersion: true}
	if err := l.AddDocument(context.Background(), &doc); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	return doc
}

func TestRecordReleaseForbiddenCategory(t *testing.T) {
	l, store := newTestLedger(t, nil, nil)
	doc := addDoc(t, l, "deal-1", CategoryInternalOnly)

	_, err := l.RecordRelease(context.Background(), ReleaseRequest{
		DealID:     "deal-1",
		DocumentID: doc.ID,
		Identity:   access.Contact("c-1"),
		Method:     MethodDirect,
		ReleasedBy: "op-1",
	})
	if !errors.Is(err, ErrForbiddenCategory) {
		t.Fatalf("expected ErrForbiddenCategory, got %v", err)
	}

	entries, err := store.EntriesByDeal(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("EntriesByDeal: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected release must write no ledger row, got %d", len(entries))
	}
}

func TestRecordReleaseSnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	agreements := agreement.NewInMemory()
	signedAt := time.Now().Add(-time.Hour)
	org := agreement.Organization{
		Name:          "BuyerCo",
		PrimaryDomain: "buyerco.com",
		NDA: agreement.Track{
			Status:       agreement.StatusSigned,
			SignedAt:     &signedAt,
			SignedByName: "Jane Signer",
		},
	}
	if err := agreements.CreateOrganization(ctx, &org); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	buyer := access.OrganizationBuyer("buyer-1")
	l, _ := newTestLedger(t, agreements, fakeEmails{buyer.Key(): "jane@buyerco.com"})
	doc := addDoc(t, l, "deal-1", CategoryTeaser)

	entry, err := l.RecordRelease(ctx, ReleaseRequest{
		DealID:     "deal-1",
		DocumentID: doc.ID,
		Identity:   buyer,
		Method:     MethodDirect,
		ReleasedBy: "op-1",
	})
	if err != nil {
		t.Fatalf("RecordRelease: %v", err)
	}
	if entry.Snapshot.NDAStatus != agreement.StatusSigned {
		t.Fatalf("snapshot did not capture signed state: %+v", entry.Snapshot)
	}

	// Mutate the underlying agreement after the release.
	if _, err := agreements.Transition(ctx, org.ID, agreement.TypeNDA, agreement.TransitionRequest{
		To: agreement.StatusExpired, ActorID: "system",
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, err := l.Entry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if got.Snapshot.NDAStatus != agreement.StatusSigned {
		t.Fatalf("historical snapshot was rewritten: %+v", got.Snapshot)
	}
	if got.ReleasedAt != entry.ReleasedAt || got.Method != entry.Method {
		t.Fatalf("immutable fields differ between reads: %+v vs %+v", got, entry)
	}
}

func TestRecordReleaseLegacyBulkWithoutDocument(t *testing.T) {
	l, _ := newTestLedger(t, nil, nil)
	entry, err := l.RecordRelease(context.Background(), ReleaseRequest{
		DealID:     "deal-1",
		Identity:   access.Contact("c-1"),
		Method:     MethodCampaign,
		ReleasedBy: "pipeline",
	})
	if err != nil {
		t.Fatalf("RecordRelease: %v", err)
	}
	if entry.DocumentID != "" {
		t.Fatalf("expected empty document reference, got %q", entry.DocumentID)
	}
}

func TestIssueAndResolveLink(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil, nil)
	doc := addDoc(t, l, "deal-1", CategoryTeaser)

	link, err := l.IssueLink(ctx, LinkRequest{
		DocumentID: doc.ID,
		Identity:   access.Contact("c-1"),
		IssuedBy:   "op-1",
	})
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if link.Token == "" || link.EntryID == "" {
		t.Fatalf("link missing token or ledger entry: %+v", link)
	}

	res, err := l.ResolveLink(ctx, link.Token)
	if err != nil {
		t.Fatalf("ResolveLink: %v", err)
	}
	if !res.Available || res.DocumentID != doc.ID {
		t.Fatalf("expected available resolution, got %+v", res)
	}

	// Opens accumulate and denormalize the first open onto the entry.
	if _, err := l.ResolveLink(ctx, link.Token); err != nil {
		t.Fatalf("second ResolveLink: %v", err)
	}
	stored, err := l.store.LinkByToken(ctx, link.Token)
	if err != nil {
		t.Fatalf("LinkByToken: %v", err)
	}
	if stored.OpenCount != 2 || stored.FirstOpenAt == nil || stored.LastOpenAt == nil {
		t.Fatalf("engagement counters wrong: %+v", stored)
	}
	entry, err := l.Entry(ctx, link.EntryID)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry.FirstOpenedAt == nil || !entry.FirstOpenedAt.Equal(*stored.FirstOpenAt) {
		t.Fatalf("first open not denormalized onto entry: %+v", entry)
	}
}

func TestResolveLinkFailsClosed(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, nil, nil)
	doc := addDoc(t, l, "deal-1", CategoryTeaser)

	// Unknown token.
	res, err := l.ResolveLink(ctx, "no-such-token")
	if err != nil || res.Available {
		t.Fatalf("unknown token must be unavailable without error: %+v %v", res, err)
	}

	// Revoked link.
	revoked, err := l.IssueLink(ctx, LinkRequest{DocumentID: doc.ID, Identity: access.Contact("c-1"), IssuedBy: "op"})
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if _, err := l.RevokeLink(ctx, revoked.ID, "op"); err != nil {
		t.Fatalf("RevokeLink: %v", err)
	}
	resRevoked, err := l.ResolveLink(ctx, revoked.Token)
	if err != nil || resRevoked.Available {
		t.Fatalf("revoked token must be unavailable: %+v %v", resRevoked, err)
	}

	// Expired link.
	past := time.Now().Add(-time.Minute)
	expired, err := l.IssueLink(ctx, LinkRequest{DocumentID: doc.ID, Identity: access.Contact("c-2"), IssuedBy: "op", ExpiresAt: &past})
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	resExpired, err := l.ResolveLink(ctx, expired.Token)
	if err != nil || resExpired.Available {
		t.Fatalf("expired token must be unavailable: %+v %v", resExpired, err)
	}

	// All three failures look identical to the anonymous caller.
	if res != resRevoked || res != resExpired {
		t.Fatalf("fail-closed resolutions must be indistinguishable: %+v %+v %+v", res, resRevoked, resExpired)
	}
}

func TestIssueLinkForInternalOnlyDocument(t *testing.T) {
	l, _ := newTestLedger(t, nil, nil)
	doc := addDoc(t, l, "deal-1", CategoryInternalOnly)
	_, err := l.IssueLink(context.Background(), LinkRequest{DocumentID: doc.ID, Identity: access.Contact("c-1"), IssuedBy: "op"})
	if !errors.Is(err, ErrForbiddenCategory) {
		t.Fatalf("expected ErrForbiddenCategory, got %v", err)
	}
}
