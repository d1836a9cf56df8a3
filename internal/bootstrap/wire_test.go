package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cosmosai/internal/config"
	"cosmosai/internal/domain"
	"cosmosai/internal/leads"
	"cosmosai/internal/providers/retell"
	"cosmosai/internal/providers/vapi"
)

func TestBuildVoiceSuccess(t *testing.T) {
	t.Parallel()

	for _, vendor := range []string{config.VendorRetell, config.VendorVapi} {
		services, err := BuildVoice(testConfig(t, vendor), noopEventSink{}, zerolog.Nop())
		if err != nil {
			t.Fatalf("%s: build failed: %v", vendor, err)
		}
		if services.Controller == nil {
			t.Fatalf("%s: expected controller", vendor)
		}
		if services.Controller.Status().Ready {
			t.Fatalf("%s: controller must not be ready before init", vendor)
		}
	}
}

func TestBuildVoiceRejectsUnknownVendor(t *testing.T) {
	t.Parallel()

	if _, err := BuildVoice(testConfig(t, "twilio"), noopEventSink{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected unsupported vendor error")
	}
}

func TestCallIssuerPerVendor(t *testing.T) {
	t.Parallel()

	issuer, err := callIssuer(config.VendorConfig{Name: config.VendorRetell})
	if _, ok := issuer.(*retell.WebCallIssuer); err != nil || !ok {
		t.Fatalf("expected retell issuer, got %T %v", issuer, err)
	}
	issuer, err = callIssuer(config.VendorConfig{Name: config.VendorVapi})
	if _, ok := issuer.(*vapi.WebCallIssuer); err != nil || !ok {
		t.Fatalf("expected vapi issuer, got %T %v", issuer, err)
	}
	if _, err := callIssuer(config.VendorConfig{Name: "other"}); err == nil {
		t.Fatalf("expected unsupported vendor error")
	}
}

func TestBuildServerServesBrokerAndLeads(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.VendorRetell)
	server, err := BuildServer(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Leads.Close() })

	rec := httptest.NewRecorder()
	server.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(`{"mode":"hindi"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected configuration error for hindi, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.HTTP.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(`{"name":"Asha","mobile":"1"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected lead status: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Data []domain.Lead `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Data) != 1 || body.Data[0].ID == "" {
		t.Fatalf("unexpected lead body: %s (%v)", rec.Body.String(), err)
	}
}

func TestOpenLeadsReadsBackCapturedLeads(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t, config.VendorRetell)
	store, err := OpenLeads(ctx, cfg.Leads, zerolog.Nop())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	lead, err := store.CreateLead(ctx, domain.LeadInput{Name: "Ravi", Mobile: "98100"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	loaded, err := store.Lead(ctx, lead.ID)
	if err != nil || loaded.Name != "Ravi" {
		t.Fatalf("unexpected lead: %+v (%v)", loaded, err)
	}
	if _, err := store.Lead(ctx, "missing"); !errors.Is(err, leads.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	all, err := store.Leads(ctx)
	if err != nil || len(all) != 1 || all[0].ID != lead.ID {
		t.Fatalf("unexpected leads: %+v (%v)", all, err)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.VendorVapi)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	server, err := BuildServer(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func testConfig(t *testing.T, vendor string) config.Config {
	t.Helper()

	return config.Config{
		Vendor: config.VendorConfig{Name: vendor},
		Modes: []domain.ModeConfig{
			{Mode: "english", AgentID: "agent-en", APIKey: "key-en"},
			{Mode: "hindi"},
		},
		Session: config.SessionConfig{
			BrokerURL:      "http://127.0.0.1:0/api/token",
			ConnectTimeout: time.Second,
			SampleRate:     24000,
		},
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Leads:  config.LeadsConfig{Dir: filepath.Join(t.TempDir(), "leads")},
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) ActivityChanged(_ domain.Activity)                                      {}
func (noopEventSink) MessageAppended(_ domain.Message)                                       {}
func (noopEventSink) LiveTranscript(_ *domain.LiveFragment)                                  {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}
