package checks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"
)

const KindICMP = "icmp"

// ICMP sends Count echo requests and fails when packet loss exceeds
// MaxLossPercent or no reply arrives at all.
type ICMP struct {
	Count          int
	Privileged     bool
	MaxLossPercent float64
}

type icmpConfig struct {
	Count          *int     `mapstructure:"count"`
	Privileged     bool     `mapstructure:"privileged"`
	MaxLossPercent *float64 `mapstructure:"max_loss_percent"`
}

func buildICMP(payload map[string]interface{}) (Checker, error) {
	var cfg icmpConfig
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	c := &ICMP{Count: 3, Privileged: cfg.Privileged, MaxLossPercent: 100}
	if cfg.Count != nil {
		if *cfg.Count < 1 {
			return nil, fmt.Errorf("count must be at least 1")
		}
		c.Count = *cfg.Count
	}
	if cfg.MaxLossPercent != nil {
		if *cfg.MaxLossPercent < 0 || *cfg.MaxLossPercent > 100 {
			return nil, fmt.Errorf("max_loss_percent must be within 0-100")
		}
		c.MaxLossPercent = *cfg.MaxLossPercent
	}
	return c, nil
}

func (c *ICMP) Kind() string {
	return KindICMP
}

func (c *ICMP) Check(ctx context.Context, host string) error {
	name, err := normalizeHost(host)
	if err != nil {
		return err
	}
	ip, err := lookupIP(ctx, name)
	if err != nil {
		return err
	}
	pinger, err := ping.NewPinger(ip.String())
	if err != nil {
		return classifyNetError(ctx, name, err)
	}
	pinger.SetPrivileged(c.Privileged)
	pinger.Count = c.Count
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return fmt.Errorf("%w: icmp to %s: %v", ErrIO, name, err)
	}
	if ctx.Err() != nil {
		return classifyNetError(ctx, name, ctx.Err())
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fmt.Errorf("%w: no echo replies from %s (%d sent)", ErrUnreachable, name, stats.PacketsSent)
	}
	if stats.PacketLoss > c.MaxLossPercent {
		return fmt.Errorf("%w: %s packet loss %.1f%% exceeds %.1f%%", ErrUnreachable, name, stats.PacketLoss, c.MaxLossPercent)
	}
	return nil
}

// lookupIP resolves name within ctx, preferring an IPv4 address. IP literals
// are returned as is.
func lookupIP(ctx context.Context, name string) (net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, name)
	if err != nil {
		return nil, classifyNetError(ctx, name, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %q", ErrResolve, name)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	return addrs[0].IP, nil
}
