package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

func emailChannel(recipients ...string) *db.AlertChannel {
	list := make([]interface{}, len(recipients))
	for i, r := range recipients {
		list[i] = r
	}
	return &db.AlertChannel{
		ID:     "ch-email",
		Type:   db.ChannelEmail,
		Config: db.JSONB{"recipients": list},
	}
}

func TestEmailSend(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Channels.EmailAPIURL = srv.URL
	cfg.Channels.EmailFrom = "alerts@pulsewatch.io"

	s := NewEmailSender(cfg, zap.NewNop())
	if err := s.Send(context.Background(), ActionOpened, testAlert(), emailChannel("ops@example.com")); err != nil {
		t.Fatal(err)
	}

	if payload["from"] != "alerts@pulsewatch.io" {
		t.Errorf("from = %v", payload["from"])
	}
	if !strings.Contains(payload["subject"].(string), "Incident opened") {
		t.Errorf("subject = %v", payload["subject"])
	}
	body := payload["html"].(string)
	if !strings.Contains(body, "nightly-backup") || !strings.Contains(body, "View incident") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestEmailNoRecipientsIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Channels.EmailAPIURL = srv.URL

	s := NewEmailSender(cfg, zap.NewNop())
	if err := s.Send(context.Background(), ActionOpened, testAlert(), emailChannel()); err != nil {
		t.Fatalf("empty recipient list must be a silent no-op, got %v", err)
	}
	if called {
		t.Fatal("no recipients must not hit the email API")
	}
}

func TestEmailMissingAPIIsConfigError(t *testing.T) {
	s := NewEmailSender(testConfig(), zap.NewNop())
	err := s.Send(context.Background(), ActionOpened, testAlert(), emailChannel("ops@example.com"))
	if !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}
