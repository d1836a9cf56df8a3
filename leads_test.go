package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"cosmosai/internal/domain"
	"cosmosai/internal/leads"
)

func TestPrintLeadsTable(t *testing.T) {
	t.Parallel()

	store := openMemoryLeads(t)
	ctx := context.Background()
	first, err := store.CreateLead(ctx, domain.LeadInput{Name: "Asha", Mobile: "98100", Description: "wants a demo"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.CreateLead(ctx, domain.LeadInput{Name: "Ravi", Mobile: "98200"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var out bytes.Buffer
	if err := printLeads(ctx, &out, store, "", false); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("missing header:\n%s", out.String())
	}
	rows := strings.Join(lines[1:], "\n")
	for _, want := range []string{first.ID, "wants a demo", "Ravi", "98200"} {
		if !strings.Contains(rows, want) {
			t.Fatalf("table missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintLeadsSingleJSON(t *testing.T) {
	t.Parallel()

	store := openMemoryLeads(t)
	ctx := context.Background()
	lead, err := store.CreateLead(ctx, domain.LeadInput{Name: "Asha", Mobile: "98100"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var out bytes.Buffer
	if err := printLeads(ctx, &out, store, lead.ID, true); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	var got domain.Lead
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v\n%s", err, out.String())
	}
	if got.ID != lead.ID || got.Name != "Asha" || got.Mobile != "98100" {
		t.Fatalf("unexpected lead: %+v", got)
	}
}

func TestPrintLeadsEmpty(t *testing.T) {
	t.Parallel()

	store := openMemoryLeads(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := printLeads(ctx, &out, store, "", false); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	if out.String() != "No leads captured.\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}

	out.Reset()
	if err := printLeads(ctx, &out, store, "", true); err != nil {
		t.Fatalf("print failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Fatalf("expected empty JSON array, got %q", out.String())
	}
}

func TestPrintLeadsUnknownID(t *testing.T) {
	t.Parallel()

	store := openMemoryLeads(t)
	err := printLeads(context.Background(), &bytes.Buffer{}, store, "missing", false)
	if !errors.Is(err, leads.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func openMemoryLeads(t *testing.T) *leads.Badger {
	t.Helper()

	store, err := leads.OpenBadger(leads.BadgerOptions{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
