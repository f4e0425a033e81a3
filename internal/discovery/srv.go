package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/source/email"
)

const resolvConf = "/etc/resolv.conf"

// srvResolver looks up RFC 6186 IMAP service records.
type srvResolver struct {
	server string
	client *dns.Client
}

// newSRVResolver queries server (host:port). An empty server uses the
// first nameserver from resolv.conf.
func newSRVResolver(server string, timeout time.Duration) (*srvResolver, error) {
	if server == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", resolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no nameservers in %s", resolvConf)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return &srvResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// lookup returns the IMAP endpoints published for domain, implicit TLS
// records first, each group ordered by priority and weight. The names
// queried are returned as well.
func (r *srvResolver) lookup(ctx context.Context, domain string) ([]email.Endpoint, []string, error) {
	services := []struct {
		name string
		tls  bool
	}{
		{"_imaps._tcp." + domain, true},
		{"_imap._tcp." + domain, false},
	}

	var (
		endpoints []email.Endpoint
		queried   []string
	)
	for _, svc := range services {
		queried = append(queried, svc.name)

		records, err := r.query(ctx, svc.name)
		if err != nil {
			return endpoints, queried, err
		}
		for _, rr := range records {
			target := strings.ToLower(strings.TrimSuffix(rr.Target, "."))
			// "." means the service is explicitly not offered.
			if target == "" || rr.Port == 0 {
				continue
			}
			endpoints = append(endpoints, email.Endpoint{
				Host: target,
				Port: int(rr.Port),
				TLS:  svc.tls,
			})
		}
	}
	return endpoints, queried, nil
}

func (r *srvResolver) query(ctx context.Context, name string) ([]*dns.SRV, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeSRV)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, source.Wrap("SRV lookup "+name, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, &source.OpError{
			Op:   "SRV lookup " + name,
			Kind: source.KindServerRejected,
			Err:  fmt.Errorf("rcode %s", dns.RcodeToString[in.Rcode]),
		}
	}

	var records []*dns.SRV
	for _, rr := range in.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	return records, nil
}
