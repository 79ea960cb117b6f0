package checks

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

const KindTLS = "tls"

// TLS completes a TLS handshake against host:Port and optionally enforces a
// minimum remaining certificate validity.
type TLS struct {
	Port         uint16
	ServerName   string
	MinValidDays int
}

type tlsConfig struct {
	Port         *int   `mapstructure:"port"`
	ServerName   string `mapstructure:"server_name"`
	MinValidDays int    `mapstructure:"min_valid_days"`
}

func buildTLS(payload map[string]interface{}) (Checker, error) {
	var cfg tlsConfig
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	port, err := decodePort(cfg.Port, 443, false)
	if err != nil {
		return nil, err
	}
	if cfg.MinValidDays < 0 {
		return nil, fmt.Errorf("min_valid_days must not be negative")
	}
	return &TLS{Port: port, ServerName: cfg.ServerName, MinValidDays: cfg.MinValidDays}, nil
}

func (t *TLS) Kind() string {
	return KindTLS
}

func (t *TLS) Check(ctx context.Context, host string) error {
	addr, err := joinHostPort(host, t.Port)
	if err != nil {
		return err
	}
	serverName := t.ServerName
	if serverName == "" {
		serverName, _, _ = net.SplitHostPort(addr)
	}
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: serverName}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyTLSError(ctx, addr, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("%w: %s presented no certificates", ErrProtocol, addr)
	}
	if t.MinValidDays > 0 {
		days := time.Until(state.PeerCertificates[0].NotAfter).Hours() / 24
		if days < float64(t.MinValidDays) {
			return fmt.Errorf("%w: certificate for %s expires in %.0f days (minimum %d)", ErrProtocol, serverName, days, t.MinValidDays)
		}
	}
	return nil
}

func classifyTLSError(ctx context.Context, addr string, err error) error {
	var (
		verifyErr *tls.CertificateVerificationError
		headerErr tls.RecordHeaderError
		hostErr   x509.HostnameError
		authErr   x509.UnknownAuthorityError
		certErr   x509.CertificateInvalidError
	)
	switch {
	case ctx.Err() != nil:
		return classifyNetError(ctx, addr, err)
	case errors.As(err, &verifyErr), errors.As(err, &hostErr), errors.As(err, &authErr), errors.As(err, &certErr):
		return fmt.Errorf("%w: %s: certificate rejected: %v", ErrProtocol, addr, err)
	case errors.As(err, &headerErr):
		return fmt.Errorf("%w: %s does not speak TLS", ErrProtocol, addr)
	default:
		return classifyNetError(ctx, addr, err)
	}
}
