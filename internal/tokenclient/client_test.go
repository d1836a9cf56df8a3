package tokenclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestFetchCredentialSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["mode"] != "hindi" {
			t.Errorf("unexpected body: %v %v", body, err)
		}
		_, _ = w.Write([]byte(`{"credential":"tok","sessionId":"call-1"}`))
	}))
	t.Cleanup(server.Close)

	credential, err := New(server.URL, nil, zerolog.Nop()).FetchCredential(context.Background(), "hindi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential.Token != "tok" || credential.SessionID != "call-1" {
		t.Fatalf("unexpected credential: %+v", credential)
	}
}

func TestFetchCredentialReturnsBrokerMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Server configuration error"}`))
	}))
	t.Cleanup(server.Close)

	_, err := New(server.URL, nil, zerolog.Nop()).FetchCredential(context.Background(), "hindi")
	if err == nil || err.Error() != "Server configuration error" {
		t.Fatalf("expected verbatim broker message, got %v", err)
	}
}

func TestFetchCredentialStatusWithoutMessage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := New(server.URL, nil, zerolog.Nop()).FetchCredential(context.Background(), "english")
	if err == nil || err.Error() != "token broker returned status 502" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchCredentialRejectsEmptyCredential(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sessionId":"call-1"}`))
	}))
	t.Cleanup(server.Close)

	_, err := New(server.URL, nil, zerolog.Nop()).FetchCredential(context.Background(), "english")
	if !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
}

func TestFetchCredentialAcceptsURLOnly(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"credential":"","sessionId":"call-2","url":"https://vapi.daily.co/room"}`))
	}))
	t.Cleanup(server.Close)

	credential, err := New(server.URL, nil, zerolog.Nop()).FetchCredential(context.Background(), "english")
	if err != nil || credential.URL != "https://vapi.daily.co/room" {
		t.Fatalf("unexpected result: %+v %v", credential, err)
	}
}

func TestFetchCredentialRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New("", nil, zerolog.Nop()).FetchCredential(context.Background(), "english"); err == nil {
		t.Fatalf("expected missing url error")
	}
}
