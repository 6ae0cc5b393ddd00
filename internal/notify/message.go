package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/db"
)

// KindEmoji returns the glyph used in titles for an incident kind.
func KindEmoji(kind db.IncidentKind) string {
	switch kind {
	case db.IncidentMissed:
		return "🚫"
	case db.IncidentFail:
		return "❌"
	case db.IncidentLate:
		return "⏰"
	case db.IncidentAnomaly:
		return "⚠️"
	default:
		return "🔔"
	}
}

// Title builds the headline shared by the chat-style senders.
func Title(action string, alert *Alert) string {
	verb := "opened"
	switch action {
	case ActionAcked:
		verb = "acknowledged"
	case ActionResolved:
		verb = "resolved"
	}
	return fmt.Sprintf("%s Incident %s: %s", KindEmoji(alert.Incident.Kind), verb, alert.Monitor.Name)
}

// Truncate caps s at max runes, appending "..." when it was longer.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// RunGlyphs renders recent run outcomes as a compact ✅/❌ sequence, oldest
// first.
func RunGlyphs(runs []*db.Run) string {
	if len(runs) == 0 {
		return ""
	}
	var b strings.Builder
	for i := len(runs) - 1; i >= 0; i-- {
		switch runs[i].Outcome {
		case db.RunSuccess, db.RunLate:
			b.WriteString("✅")
		default:
			b.WriteString("❌")
		}
	}
	return b.String()
}

func IncidentURL(baseURL, incidentID string) string {
	return fmt.Sprintf("%s/incidents/%s", strings.TrimRight(baseURL, "/"), incidentID)
}

func MonitorURL(baseURL, monitorID string) string {
	return fmt.Sprintf("%s/monitors/%s", strings.TrimRight(baseURL, "/"), monitorID)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func lastRunLine(m *db.Monitor) string {
	if m.LastRunAt == nil {
		return "never"
	}
	line := formatTime(m.LastRunAt)
	if m.LastDurationMs != nil {
		line += fmt.Sprintf(" (%dms)", *m.LastDurationMs)
	}
	if m.LastExitCode != nil {
		line += fmt.Sprintf(" exit %d", *m.LastExitCode)
	}
	return line
}
