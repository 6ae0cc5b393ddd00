package notify

import (
	"testing"

	"github.com/pulsewatch/pulsewatch/internal/db"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short unchanged", "hello", 10, "hello"},
		{"exact unchanged", "hello", 5, "hello"},
		{"long truncated", "hello world", 5, "hello..."},
		{"multibyte runes", "héllo wörld", 5, "héllo..."},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestRunGlyphs(t *testing.T) {
	// Runs arrive newest first; glyphs render oldest first.
	runs := []*db.Run{
		{Outcome: db.RunMissed},
		{Outcome: db.RunLate},
		{Outcome: db.RunFail},
		{Outcome: db.RunSuccess},
	}
	if got := RunGlyphs(runs); got != "✅❌✅❌" {
		t.Errorf("RunGlyphs() = %q, want %q", got, "✅❌✅❌")
	}
	if got := RunGlyphs(nil); got != "" {
		t.Errorf("RunGlyphs(nil) = %q, want empty", got)
	}
}

func TestTitle(t *testing.T) {
	alert := testAlert()
	if got := Title(ActionOpened, alert); got != "🚫 Incident opened: nightly-backup" {
		t.Errorf("opened title = %q", got)
	}
	if got := Title(ActionAcked, alert); got != "🚫 Incident acknowledged: nightly-backup" {
		t.Errorf("acked title = %q", got)
	}
	if got := Title(ActionResolved, alert); got != "🚫 Incident resolved: nightly-backup" {
		t.Errorf("resolved title = %q", got)
	}

	alert.Incident.Kind = db.IncidentAnomaly
	if got := Title(ActionOpened, alert); got != "⚠️ Incident opened: nightly-backup" {
		t.Errorf("anomaly title = %q", got)
	}
}

func TestURLsTrimTrailingSlash(t *testing.T) {
	if got := IncidentURL("https://app.pulsewatch.io/", "inc-1"); got != "https://app.pulsewatch.io/incidents/inc-1" {
		t.Errorf("IncidentURL = %q", got)
	}
	if got := MonitorURL("https://app.pulsewatch.io", "m1"); got != "https://app.pulsewatch.io/monitors/m1" {
		t.Errorf("MonitorURL = %q", got)
	}
}
