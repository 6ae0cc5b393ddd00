package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

func webhookChannel(url, secret string) *db.AlertChannel {
	cfg := db.JSONB{"url": url}
	if secret != "" {
		cfg["secret"] = secret
	}
	return &db.AlertChannel{ID: "ch-wh", Type: db.ChannelWebhook, Config: cfg}
}

func TestSign(t *testing.T) {
	// Known vector so receiver implementations can be checked against it.
	got := Sign("topsecret", []byte(`{"event":"incident.opened"}`))
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != Sign("topsecret", []byte(`{"event":"incident.opened"}`)) {
		t.Fatal("signature must be deterministic")
	}
	if got == Sign("othersecret", []byte(`{"event":"incident.opened"}`)) {
		t.Fatal("different secrets must produce different signatures")
	}
	if got == Sign("topsecret", []byte(`{"event":"incident.resolved"}`)) {
		t.Fatal("different bodies must produce different signatures")
	}
}

func TestWebhookSendSignsPayload(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Pulsewatch-Signature")
		gotTS = r.Header.Get("X-Pulsewatch-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(testConfig(), zap.NewNop())
	if err := s.Send(context.Background(), ActionOpened, testAlert(), webhookChannel(srv.URL, "topsecret")); err != nil {
		t.Fatal(err)
	}

	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if gotSig != Sign("topsecret", gotBody) {
		t.Fatal("signature must verify against the delivered body")
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Event != "incident.opened" {
		t.Errorf("event = %q", payload.Event)
	}
	if payload.Incident.ID != "inc-1" || payload.Monitor.Name != "nightly-backup" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestWebhookSendUnsignedWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Pulsewatch-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(testConfig(), zap.NewNop())
	if err := s.Send(context.Background(), ActionOpened, testAlert(), webhookChannel(srv.URL, "")); err != nil {
		t.Fatal(err)
	}
	if gotSig != "" {
		t.Fatal("unsigned channel must not carry a signature header")
	}
}

func TestWebhookSendRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(testConfig(), zap.NewNop())
	if err := s.Send(context.Background(), ActionOpened, testAlert(), webhookChannel(srv.URL, "")); err != nil {
		t.Fatalf("third attempt succeeded, Send must too: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWebhookSendExhaustsRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(testConfig(), zap.NewNop())
	err := s.Send(context.Background(), ActionOpened, testAlert(), webhookChannel(srv.URL, ""))
	if err != ErrWebhookExhausted {
		t.Fatalf("expected ErrWebhookExhausted, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWebhookMissingURLIsConfigError(t *testing.T) {
	s := NewWebhookSender(testConfig(), zap.NewNop())
	err := s.Send(context.Background(), ActionOpened, testAlert(), &db.AlertChannel{ID: "ch-wh", Type: db.ChannelWebhook, Config: db.JSONB{}})
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}
