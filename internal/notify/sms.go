package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/config"
	"github.com/pulsewatch/pulsewatch/internal/db"
	"go.uber.org/zap"
)

const smsBodyLimit = 900

// ErrSMSRateLimited is terminal for this delivery: sending later would be a
// stale page, and the org is over its hourly budget anyway.
var ErrSMSRateLimited = errors.New("sms rate limit exceeded for org")

type SMSSender struct {
	cfg     *config.Config
	limiter *SMSRateLimiter
	client  *http.Client
	logger  *zap.Logger
}

func NewSMSSender(cfg *config.Config, limiter *SMSRateLimiter, logger *zap.Logger) *SMSSender {
	return &SMSSender{
		cfg:     cfg,
		limiter: limiter,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (s *SMSSender) Type() db.ChannelType { return db.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, action string, alert *Alert, channel *db.AlertChannel) error {
	if !s.cfg.Channels.SMSEnabled {
		return nil
	}

	if s.cfg.Channels.SMSGatewayURL == "" {
		return &ConfigError{ChannelID: channel.ID, Reason: "sms gateway not configured"}
	}

	recipients := channel.Config.Strings("recipients")
	if len(recipients) == 0 {
		return nil
	}

	if !s.limiter.Allow(alert.Incident.OrgID) {
		s.logger.Warn("sms suppressed by org rate limit",
			zap.String("org_id", alert.Incident.OrgID),
			zap.String("incident_id", alert.Incident.ID),
		)
		return ErrSMSRateLimited
	}

	body := Truncate(s.buildBody(action, alert), smsBodyLimit)

	// Each recipient is independent: the delivery succeeds if at least one
	// message goes out.
	var sent int
	for _, to := range recipients {
		if err := s.sendOne(ctx, to, body); err != nil {
			s.logger.Warn("sms send failed",
				zap.String("recipient", to),
				zap.String("incident_id", alert.Incident.ID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if sent == 0 {
		return errors.New("All SMS messages failed")
	}
	return nil
}

func (s *SMSSender) sendOne(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"from": s.cfg.Channels.SMSFrom,
		"body": body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Channels.SMSGatewayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Channels.SMSAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Channels.SMSAPIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sms gateway error: %d - %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *SMSSender) buildBody(action string, alert *Alert) string {
	inc := alert.Incident
	m := alert.Monitor

	switch action {
	case ActionAcked:
		return fmt.Sprintf("👀 Acknowledged: %s (%s). %s", m.Name, inc.Kind, inc.Summary)
	case ActionResolved:
		return fmt.Sprintf("✅ Resolved: %s (%s). %s", m.Name, inc.Kind, inc.Summary)
	default:
		return fmt.Sprintf("🚨 Alert: %s (%s, severity %s). %s", m.Name, inc.Kind, inc.Severity, inc.Summary)
	}
}
