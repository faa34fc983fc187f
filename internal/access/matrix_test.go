package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealgate.io/internal/agreement"
)

type fakeDeals map[string]bool

func (d fakeDeals) DealExists(ctx context.Context, dealID string) (bool, error) {
	return d[dealID], nil
}

type fakeEmails map[string]string

func (e fakeEmails) EmailFor(ctx context.Context, ref IdentityRef) (string, bool, error) {
	email, ok := e[ref.Key()]
	return email, ok, nil
}

func newTestMatrix(t *testing.T, agreements *agreement.InMemory, emails fakeEmails) *Matrix {
	t.Helper()
	return NewMatrix(
		NewInMemory(),
		agreement.NewResolver(agreements),
		fakeDeals{"deal-1": true},
		emails,
	)
}

func TestMatrixGrantUnknownDeal(t *testing.T) {
	m := newTestMatrix(t, agreement.NewInMemory(), fakeEmails{})
	_, err := m.Grant(context.Background(), grantReq("deal-404", Contact("c-1")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown deal, got %v", err)
	}
}

func TestMatrixQueryJoinsCoverage(t *testing.T) {
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

	buyer := OrganizationBuyer("buyer-1")
	m := newTestMatrix(t, agreements, fakeEmails{buyer.Key(): "jane@buyerco.com"})

	if _, err := m.Grant(ctx, GrantRequest{
		DealID:       "deal-1",
		Identity:     buyer,
		Capabilities: Capabilities{Teaser: true, Memo: true},
		GrantedBy:    "op-1",
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	views, err := m.Query(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
	v := views[0]
	if !v.Active || v.CoverageLapsed {
		t.Fatalf("expected active covered view: %+v", v)
	}
	if !v.NDACoverage.Covered || v.NDACoverage.Source != agreement.CoverageDirect {
		t.Fatalf("NDA coverage not joined: %+v", v.NDACoverage)
	}
	if v.FeeCoverage.Covered {
		t.Fatalf("fee coverage should be absent: %+v", v.FeeCoverage)
	}
}

func TestMatrixQueryFlagsLapsedCoverage(t *testing.T) {
	ctx := context.Background()
	agreements := agreement.NewInMemory()
	past := time.Now().Add(-time.Minute)
	signedAt := time.Now().Add(-48 * time.Hour)
	org := agreement.Organization{
		Name:          "BuyerCo",
		PrimaryDomain: "buyerco.com",
		NDA: agreement.Track{
			Status:       agreement.StatusSigned,
			SignedAt:     &signedAt,
			SignedByName: "Jane Signer",
			ExpiresAt:    &past,
		},
	}
	if err := agreements.CreateOrganization(ctx, &org); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}

	buyer := OrganizationBuyer("buyer-1")
	m := newTestMatrix(t, agreements, fakeEmails{buyer.Key(): "jane@buyerco.com"})
	if _, err := m.Grant(ctx, grantReq("deal-1", buyer)); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	views, err := m.Query(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one view, got %d", len(views))
	}
	v := views[0]
	if !v.Active {
		t.Fatal("coverage lapse must not auto-revoke the grant")
	}
	if !v.CoverageLapsed {
		t.Fatalf("lapsed coverage not flagged: %+v", v)
	}
}

func TestMatrixOverrideSuppressesLapseFlag(t *testing.T) {
	ctx := context.Background()
	buyer := Contact("c-2")
	m := newTestMatrix(t, agreement.NewInMemory(), fakeEmails{})
	g, err := m.Grant(ctx, grantReq("deal-1", buyer))
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := m.Override(ctx, g.ID, true, "board-approved exception", "admin-1"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	views, err := m.Query(ctx, "deal-1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if views[0].CoverageLapsed {
		t.Fatal("override grants are not reported as lapsed")
	}
}
