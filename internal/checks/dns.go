package checks

import (
	"context"
	"fmt"
	"net"
	"strings"

	dnsclient "github.com/miekg/dns"
)

const KindDNS = "dns"

const fallbackResolver = "8.8.8.8:53"

// DNS queries a resolver for a record of RecordType at host and fails unless
// at least one record of that type is returned.
type DNS struct {
	RecordType string
	Resolver   string
}

type dnsConfig struct {
	RecordType string `mapstructure:"record_type"`
	Resolver   string `mapstructure:"resolver"`
}

var dnsRecordTypes = map[string]uint16{
	"A":     dnsclient.TypeA,
	"AAAA":  dnsclient.TypeAAAA,
	"CNAME": dnsclient.TypeCNAME,
	"MX":    dnsclient.TypeMX,
	"NS":    dnsclient.TypeNS,
	"TXT":   dnsclient.TypeTXT,
}

func buildDNS(payload map[string]interface{}) (Checker, error) {
	var cfg dnsConfig
	if err := decode(payload, &cfg); err != nil {
		return nil, err
	}
	d := &DNS{
		RecordType: strings.ToUpper(strings.TrimSpace(cfg.RecordType)),
		Resolver:   strings.TrimSpace(cfg.Resolver),
	}
	if d.RecordType == "" {
		d.RecordType = "A"
	}
	if _, ok := dnsRecordTypes[d.RecordType]; !ok {
		return nil, fmt.Errorf("unsupported record_type %q", cfg.RecordType)
	}
	if d.Resolver != "" {
		if _, _, err := net.SplitHostPort(d.Resolver); err != nil {
			d.Resolver = net.JoinHostPort(d.Resolver, "53")
		}
	}
	return d, nil
}

func (d *DNS) Kind() string {
	return KindDNS
}

func (d *DNS) Check(ctx context.Context, host string) error {
	name, err := normalizeHost(host)
	if err != nil {
		return err
	}
	if net.ParseIP(name) != nil {
		return fmt.Errorf("%w: %s is an IP address, dns checks need a host name", ErrProtocol, name)
	}
	qtype := dnsRecordTypes[d.RecordType]
	server := d.Resolver
	if server == "" {
		server = systemResolver()
	}

	msg := new(dnsclient.Msg)
	msg.SetQuestion(dnsclient.Fqdn(name), qtype)
	client := &dnsclient.Client{}
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return classifyNetError(ctx, server, err)
	}
	if resp == nil {
		return fmt.Errorf("%w: empty response from %s", ErrProtocol, server)
	}
	switch resp.Rcode {
	case dnsclient.RcodeSuccess:
	case dnsclient.RcodeNameError:
		return fmt.Errorf("%w: %s: NXDOMAIN from %s", ErrResolve, name, server)
	default:
		return fmt.Errorf("%w: %s: %s from %s", ErrProtocol, name, dnsclient.RcodeToString[resp.Rcode], server)
	}
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			return nil
		}
	}
	return fmt.Errorf("%w: %s has no %s records", ErrResolve, name, d.RecordType)
}

func systemResolver() string {
	conf, err := dnsclient.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return fallbackResolver
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}
