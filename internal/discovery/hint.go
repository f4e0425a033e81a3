package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/nhle/mailsetup/internal/source/email"
)

// ParseHint turns a user-supplied server description into candidate
// endpoints, most preferred first. Accepted forms are host, host:port,
// imap://host[:port] and imaps://host[:port]. An email address stands for
// its domain.
func ParseHint(hint string) ([]email.Endpoint, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, fmt.Errorf("server name is empty")
	}

	if strings.Contains(hint, "://") {
		return parseURLHint(hint)
	}

	if at := strings.LastIndex(hint, "@"); at >= 0 {
		hint = hint[at+1:]
	}

	host, port, err := splitHostPort(hint)
	if err != nil {
		return nil, err
	}

	switch port {
	case 0:
		return []email.Endpoint{
			{Host: host, Port: email.PortIMAPS, TLS: true},
			{Host: host, Port: email.PortIMAP, TLS: false},
		}, nil
	case email.PortIMAPS:
		return []email.Endpoint{{Host: host, Port: port, TLS: true}}, nil
	case email.PortIMAP:
		return []email.Endpoint{{Host: host, Port: port, TLS: false}}, nil
	default:
		return []email.Endpoint{
			{Host: host, Port: port, TLS: true},
			{Host: host, Port: port, TLS: false},
		}, nil
	}
}

func parseURLHint(hint string) ([]email.Endpoint, error) {
	u, err := url.Parse(hint)
	if err != nil {
		return nil, fmt.Errorf("parsing server URL %q: %w", hint, err)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("server URL %q must not contain a path", hint)
	}

	var ep email.Endpoint
	switch strings.ToLower(u.Scheme) {
	case "imaps":
		ep = email.Endpoint{Port: email.PortIMAPS, TLS: true}
	case "imap":
		ep = email.Endpoint{Port: email.PortIMAP, TLS: false}
	default:
		return nil, fmt.Errorf("unsupported scheme %q (use imap:// or imaps://)", u.Scheme)
	}

	host, port, err := splitHostPort(u.Host)
	if err != nil {
		return nil, err
	}
	ep.Host = host
	if port != 0 {
		ep.Port = port
	}
	return []email.Endpoint{ep}, nil
}

// splitHostPort returns the lowercased host and the port, 0 when absent.
func splitHostPort(s string) (string, int, error) {
	host, portStr := s, ""
	if h, p, err := net.SplitHostPort(s); err == nil {
		host, portStr = h, p
	}

	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !validHost(host) {
		return "", 0, fmt.Errorf("%q is not a valid server name", s)
	}

	if portStr == "" {
		return host, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%q is not a valid port", portStr)
	}
	return host, port, nil
}

func validHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for _, r := range label {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
	}
	return true
}

// guessEndpoints lists the conventional IMAP hosts of domain.
func guessEndpoints(domain string) []email.Endpoint {
	var eps []email.Endpoint
	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		eps = append(eps,
			email.Endpoint{Host: host, Port: email.PortIMAPS, TLS: true},
			email.Endpoint{Host: host, Port: email.PortIMAP, TLS: false},
		)
	}
	return eps
}
