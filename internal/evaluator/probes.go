package evaluator

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/likexian/whois"
)

const probeTimeout = 15 * time.Second

// fetchCertExpiry dials the target over TLS and returns the leaf
// certificate's NotAfter.
func fetchCertExpiry(target string) (time.Time, error) {
	hostname, port := splitTarget(target)
	if hostname == "" {
		return time.Time{}, fmt.Errorf("invalid target %q", target)
	}

	dialer := &net.Dialer{Timeout: probeTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(hostname, port), &tls.Config{
		ServerName: hostname,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("tls dial failed: %w", err)
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return time.Time{}, errors.New("no peer certificates")
	}
	return certs[0].NotAfter, nil
}

// fetchDomainExpiry queries WHOIS and extracts the registration expiry date.
func fetchDomainExpiry(target string) (time.Time, error) {
	domain, _ := splitTarget(target)
	if domain == "" {
		return time.Time{}, fmt.Errorf("invalid target %q", target)
	}

	data, err := whois.Whois(domain)
	if err != nil {
		return time.Time{}, fmt.Errorf("whois lookup failed: %w", err)
	}

	expiry := extractExpiryDate(data)
	if expiry.IsZero() {
		return time.Time{}, errors.New("no expiry date in whois data")
	}
	return expiry, nil
}

func splitTarget(target string) (host, port string) {
	raw := target
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	port = u.Port()
	if port == "" {
		port = "443"
	}
	return u.Hostname(), port
}

func extractExpiryDate(whoisData string) time.Time {
	prefixes := []string{
		"Registry Expiry Date:",
		"Registrar Registration Expiration Date:",
		"Expiry Date:",
		"Expiration Date:",
		"Expires:",
		"Expiry:",
		"paid-till:",
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
		"2006.01.02",
	}

	for _, line := range strings.Split(whoisData, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range prefixes {
			if !strings.HasPrefix(strings.ToLower(line), strings.ToLower(prefix)) {
				continue
			}
			dateStr := strings.TrimSpace(line[len(prefix):])
			for _, format := range formats {
				if t, err := time.Parse(format, dateStr); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}
