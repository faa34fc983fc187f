package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"dealgate.io/internal/obs"
)

func TestAppendStampsAndEmits(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetLoggerForTests(zerolog.New(&buf))
	defer restore()

	log := NewLog()
	ctx := WithRequestID(context.Background(), "req-42")
	entry := &Entry{
		Subject:   "grant",
		SubjectID: "grant-1",
		Action:    "access.grant.revoke",
		Actor:     "user-9",
		Before:    map[string]string{"revoked": "false"},
		After:     map[string]string{"revoked": "true"},
	}
	if err := log.Append(ctx, entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected generated entry ID")
	}
	if entry.OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be stamped")
	}
	if entry.RequestID != "req-42" {
		t.Fatalf("RequestID = %q, want req-42", entry.RequestID)
	}

	line := buf.String()
	for _, want := range []string{`"type":"audit"`, `"action":"access.grant.revoke"`, `"request_id":"req-42"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %s: %s", want, line)
		}
	}
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	log := NewLog()
	err := log.Append(context.Background(), &Entry{Subject: "grant"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	entries, _ := log.List(context.Background(), Filter{})
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d, want 0", len(entries))
	}
}

func TestListFilters(t *testing.T) {
	log := NewLog()
	ctx := context.Background()
	seed := []Entry{
		{Subject: "grant", SubjectID: "g-1", Action: "access.grant.create", Actor: "alice"},
		{Subject: "grant", SubjectID: "g-1", Action: "access.grant.revoke", Actor: "bob"},
		{Subject: "agreement", SubjectID: "org-1", Action: "agreement.nda.transition", Actor: "alice"},
	}
	for i := range seed {
		e := seed[i]
		if err := log.Append(ctx, &e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.List(ctx, Filter{Subject: "grant"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("subject filter: len = %d, want 2", len(got))
	}
	got, _ = log.List(ctx, Filter{Actor: "alice"})
	if len(got) != 2 {
		t.Fatalf("actor filter: len = %d, want 2", len(got))
	}
	got, _ = log.List(ctx, Filter{Action: "access.grant.revoke"})
	if len(got) != 1 || got[0].Actor != "bob" {
		t.Fatalf("action filter: got %+v", got)
	}
	got, _ = log.List(ctx, Filter{Limit: 1})
	if len(got) != 1 || got[0].Action != "access.grant.create" {
		t.Fatalf("limit: got %+v", got)
	}
}

func TestAppendCopiesMaps(t *testing.T) {
	log := NewLog()
	after := map[string]string{"status": "signed"}
	entry := &Entry{Subject: "agreement", SubjectID: "org-1", Action: "agreement.nda.transition", Actor: "alice", After: after}
	if err := log.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append: %v", err)
	}
	after["status"] = "declined"

	entries, _ := log.List(context.Background(), Filter{})
	if entries[0].After["status"] != "signed" {
		t.Fatalf("stored entry mutated through caller map: %v", entries[0].After)
	}
}
