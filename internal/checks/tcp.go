package checks

import (
	"context"
	"net"
)

const KindTCP = "tcp"

// TCP succeeds when a connection to host:Port can be established. The
// connection is closed immediately; no payload is exchanged.
type TCP struct {
	Port uint16
}

type tcpConfig struct {
	Port *int `mapstructure:"port"`
}

func buildTCP(payload map[string]interface{}) (Checker, error) {
	var cfg tcpConfig
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	port, err := decodePort(cfg.Port, 0, true)
	if err != nil {
		return nil, err
	}
	return &TCP{Port: port}, nil
}

func (t *TCP) Kind() string {
	return KindTCP
}

func (t *TCP) Check(ctx context.Context, host string) error {
	addr, err := joinHostPort(host, t.Port)
	if err != nil {
		return err
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyNetError(ctx, addr, err)
	}
	_ = conn.Close()
	return nil
}
