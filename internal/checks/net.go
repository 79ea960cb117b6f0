package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/net/idna"
)

var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// normalizeHost converts host to the ASCII form used on the wire. IP literals,
// with or without brackets, are returned in canonical form.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrResolve)
	}
	if ip := net.ParseIP(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")); ip != nil {
		return ip.String(), nil
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: invalid host name %q: %v", ErrResolve, host, err)
	}
	return ascii, nil
}

// joinHostPort normalizes host and joins it with port.
func joinHostPort(host string, port uint16) (string, error) {
	h, err := normalizeHost(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(h, strconv.Itoa(int(port))), nil
}

// classifyNetError wraps a dial or transport error with the matching failure
// sentinel. The context is consulted first so that an expired deadline is
// always reported as a timeout regardless of how the stack surfaced it.
func classifyNetError(ctx context.Context, addr string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: no response from %s before deadline", ErrTimeout, addr)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: probe of %s abandoned", ErrCanceled, addr)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return fmt.Errorf("%w: no such host %q", ErrResolve, dnsErr.Name)
		case dnsErr.IsTimeout:
			return fmt.Errorf("%w: lookup %q timed out", ErrResolve, dnsErr.Name)
		default:
			return fmt.Errorf("%w: lookup %q: %s", ErrResolve, dnsErr.Name, dnsErr.Err)
		}
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: connecting to %s", ErrTimeout, addr)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s", ErrRefused, addr)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, rootCause(err))
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %s: connection reset", ErrIO, addr)
	default:
		return fmt.Errorf("%w: %s: %v", ErrIO, addr, rootCause(err))
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
