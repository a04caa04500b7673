package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/missbott/backend/pkg/logger"
)

// SSLChecker inspects the certificate served for a domain.
type SSLChecker interface {
	Check(ctx context.Context, domain string) SSLResult
}

type TLSCheckerConfig struct {
	Timeout      time.Duration
	CriticalDays int
	// Port defaults to 443.
	Port string
	// RootCAs overrides the system pool.
	RootCAs *x509.CertPool
}

type TLSChecker struct {
	cfg TLSCheckerConfig
	now func() time.Time
}

func NewTLSChecker(cfg TLSCheckerConfig) *TLSChecker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CriticalDays == 0 {
		cfg.CriticalDays = 14
	}
	if cfg.Port == "" {
		cfg.Port = "443"
	}
	return &TLSChecker{cfg: cfg, now: time.Now}
}

func (c *TLSChecker) Check(ctx context.Context, domain string) SSLResult {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	if host == "" {
		return SSLResult{Error: "no hostname to check", Status: StatusError}
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.cfg.Timeout},
		Config: &tls.Config{
			ServerName: host,
			RootCAs:    c.cfg.RootCAs,
			MinVersion: tls.VersionTLS12,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, c.cfg.Port))
	if err != nil {
		logger.Debug("TLS dial failed", zap.String("domain", host), zap.Error(err))
		return SSLResult{Error: err.Error(), Status: StatusError}
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return SSLResult{Error: "no peer certificate presented", Status: StatusError}
	}

	return classifyCertificate(certs[0].NotAfter, c.now(), c.cfg.CriticalDays)
}

// classifyCertificate floors the remaining lifetime to whole days.
func classifyCertificate(notAfter, now time.Time, criticalDays int) SSLResult {
	days := int(math.Floor(notAfter.Sub(now).Hours() / 24))

	status := StatusGood
	if days < criticalDays {
		status = StatusCritical
	}
	return SSLResult{DaysRemaining: days, Status: status}
}
