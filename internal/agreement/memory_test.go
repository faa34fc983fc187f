package agreement

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dealgate.io/internal/audit"
	"dealgate.io/internal/obs"
)

func TestTransitionLifecycleAndShortcutPropagation(t *testing.T) {
	log := audit.NewLog()
	s := NewInMemory(WithRecorder(log))
	ctx := context.Background()
	org := seedOrg(t, s, "BuyerCo", "buyerco.com", Track{}, Track{})

	steps := []TransitionRequest{
		{To: StatusSent, ActorID: "op-1"},
		{To: StatusUnderReview, ActorID: "op-1"},
		{To: StatusSigned, ActorID: "op-1", SignedByID: "u-9", SignedByName: "Jane Signer"},
	}
	var got Organization
	var err error
	for _, req := range steps {
		got, err = s.Transition(ctx, org.ID, TypeNDA, req)
		if err != nil {
			t.Fatalf("Transition to %s: %v", req.To, err)
		}
	}
	if got.NDA.Status != StatusSigned || !got.NDAActive {
		t.Fatalf("signed transition did not propagate shortcut: %+v", got)
	}
	if got.FeeActive {
		t.Fatal("fee shortcut changed without a fee transition")
	}

	entries, err := log.List(ctx, audit.Filter{Subject: "agreement", SubjectID: org.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != len(steps) {
		t.Fatalf("expected %d audit entries, got %d", len(steps), len(entries))
	}
	last := entries[len(entries)-1]
	if last.Before["status"] != string(StatusUnderReview) || last.After["status"] != string(StatusSigned) {
		t.Fatalf("audit entry missing before/after: %+v", last)
	}
}

func TestCreateOrganizationRejectsDuplicateDomain(t *testing.T) {
	s := NewInMemory()
	seedOrg(t, s, "BuyerCo", "buyerco.com", Track{}, Track{})
	err := s.CreateOrganization(context.Background(), &Organization{Name: "Other", PrimaryDomain: "BuyerCo.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAliasCannotShadowExistingDomain(t *testing.T) {
	s := NewInMemory()
	a := seedOrg(t, s, "A", "a.com", Track{}, Track{})
	seedOrg(t, s, "B", "b.com", Track{}, Track{})
	err := s.AddAlias(context.Background(), DomainAlias{Domain: "b.com", OrganizationID: a.ID})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMarkExpiredSweep(t *testing.T) {
	s := NewInMemory()
	past := time.Now().Add(-time.Hour)
	seedOrg(t, s, "BuyerCo", "buyerco.com", signedTrack(&past), Track{})
	seedOrg(t, s, "FreshCo", "freshco.com", signedTrack(nil), Track{})

	expired, err := s.MarkExpired(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	if len(expired) != 1 || expired[0].OrganizationName != "BuyerCo" || expired[0].Type != TypeNDA {
		t.Fatalf("unexpected sweep result: %+v", expired)
	}

	org, _, err := s.OrganizationByDomain(context.Background(), "buyerco.com")
	if err != nil {
		t.Fatalf("OrganizationByDomain: %v", err)
	}
	if org.NDA.Status != StatusExpired || org.NDAActive {
		t.Fatalf("sweep did not persist expiry: %+v", org)
	}
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	org := seedOrg(t, s, "BuyerCo", "buyerco.com", Track{}, Track{})
	if _, err := s.Transition(ctx, org.ID, TypeNDA, TransitionRequest{To: StatusSent, ActorID: "op"}); err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Losing writers see ErrInvalidTransition; nothing corrupts.
			_, _ = s.Transition(ctx, org.ID, TypeNDA, TransitionRequest{
				To: StatusSigned, ActorID: "op", SignedByName: "Jane Signer",
			})
		}()
	}
	wg.Wait()

	got, err := s.Organization(ctx, org.ID)
	if err != nil {
		t.Fatalf("Organization: %v", err)
	}
	if got.NDA.Status != StatusSigned || got.NDA.SignedAt == nil {
		t.Fatalf("expected exactly one signed outcome, got %+v", got.NDA)
	}
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, *audit.Entry) error {
	return errors.New("ledger unavailable")
}

func (failingRecorder) List(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}

func TestTransitionSurvivesRecorderFailure(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLoggerForTests(zerolog.New(&buf))
	defer restore()

	s := NewInMemory(WithRecorder(failingRecorder{}))
	org := seedOrg(t, s, "BuyerCo", "buyerco.com", Track{}, Track{})

	got, err := s.Transition(context.Background(), org.ID, TypeNDA, TransitionRequest{To: StatusSent, ActorID: "op-1"})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if got.NDA.Status != StatusSent {
		t.Fatalf("transition did not apply: %+v", got.NDA)
	}
	if !strings.Contains(buf.String(), "audit append failed") {
		t.Fatalf("recorder failure was not logged: %q", buf.String())
	}
}
