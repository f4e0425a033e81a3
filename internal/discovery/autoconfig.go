package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/source/email"
)

// Default circuit breaker settings for the ISP database.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 60 * time.Second
	defaultCBInterval    time.Duration = 5 * time.Minute
)

const maxConfigSize = 1 << 20

// errNoConfig means the server answered but has no IMAP settings for the
// domain. It does not count against the circuit breaker.
var errNoConfig = errors.New("no configuration published")

// clientConfig is the Thunderbird autoconfig document.
type clientConfig struct {
	XMLName   xml.Name `xml:"clientConfig"`
	Providers []struct {
		ID       string   `xml:"id,attr"`
		Domains  []string `xml:"domain"`
		Incoming []struct {
			Type       string `xml:"type,attr"`
			Hostname   string `xml:"hostname"`
			Port       string `xml:"port"`
			SocketType string `xml:"socketType"`
		} `xml:"incomingServer"`
	} `xml:"emailProvider"`
}

// parseClientConfig extracts the preferred IMAP endpoint for address.
// Implicit TLS wins over STARTTLS; plaintext servers are ignored.
func parseClientConfig(data []byte, address string) (email.Endpoint, error) {
	var doc clientConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return email.Endpoint{}, &source.OpError{
			Op:   "parsing autoconfig",
			Kind: source.KindMalformedResponse,
			Err:  err,
		}
	}

	local, domain := address, address
	if at := strings.LastIndex(address, "@"); at >= 0 {
		local, domain = address[:at], address[at+1:]
	}
	replacer := strings.NewReplacer(
		"%EMAILADDRESS%", address,
		"%EMAILLOCALPART%", local,
		"%EMAILDOMAIN%", strings.ToLower(domain),
	)

	var best *email.Endpoint
	for _, p := range doc.Providers {
		for _, in := range p.Incoming {
			if !strings.EqualFold(in.Type, "imap") {
				continue
			}
			port, err := strconv.Atoi(strings.TrimSpace(in.Port))
			if err != nil {
				continue
			}
			ep := email.Endpoint{
				Host: strings.ToLower(strings.TrimSpace(replacer.Replace(in.Hostname))),
				Port: port,
			}
			switch strings.ToUpper(strings.TrimSpace(in.SocketType)) {
			case "SSL", "TLS":
				ep.TLS = true
			case "STARTTLS":
				ep.TLS = false
			default:
				continue
			}
			if !ep.Valid() {
				continue
			}
			if best == nil || (ep.TLS && !best.TLS) {
				e := ep
				best = &e
			}
		}
	}

	if best == nil {
		return email.Endpoint{}, errNoConfig
	}
	return *best, nil
}

// fetcher retrieves autoconfig documents over HTTP.
type fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *zap.Logger
}

func newFetcher(client *http.Client, logger *zap.Logger) *fetcher {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "ispdb",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoConfig) || errors.Is(err, context.Canceled)
		},
	})
	return &fetcher{client: client, breaker: breaker, logger: logger}
}

// fetchISPDB fetches through the circuit breaker so a failing central
// database is skipped quickly.
func (f *fetcher) fetchISPDB(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := f.breaker.Execute(func() ([]byte, error) {
		return f.fetch(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("ISP database unavailable: %w", err)
	}
	return data, err
}

// fetch GETs rawURL. A 404 or an unknown host yields errNoConfig.
func (f *fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, errNoConfig
		}
		return nil, source.Wrap("fetching "+rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, errNoConfig
	case resp.StatusCode >= 500:
		return nil, &source.OpError{
			Op:   "fetching " + rawURL,
			Kind: source.KindServerRejected,
			Err:  fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, errNoConfig
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, source.Wrap("reading "+rawURL, err)
	}
	return data, nil
}

// lookup fetches and parses one autoconfig document. ISPDB requests go
// through the circuit breaker.
func (f *fetcher) lookup(ctx context.Context, rawURL, address string, viaBreaker bool) (model.ServerConfig, error) {
	var (
		data []byte
		err  error
	)
	if viaBreaker {
		data, err = f.fetchISPDB(ctx, rawURL)
	} else {
		data, err = f.fetch(ctx, rawURL)
	}
	if err != nil {
		return model.ServerConfig{}, err
	}

	ep, err := parseClientConfig(data, address)
	if err != nil {
		return model.ServerConfig{}, err
	}

	method := model.DiscoveryAutoconfig
	if viaBreaker {
		method = model.DiscoveryISPDB
	}
	return ep.ServerConfig(method), nil
}
