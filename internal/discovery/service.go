// Package discovery resolves IMAP server settings from an email address or
// a user-supplied server name.
package discovery

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/source/email"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultISPDBURL     = "https://autoconfig.thunderbird.net/v1.1/"
	defaultProbeTimeout = 5 * time.Second
	defaultCacheTTL     = 7 * 24 * time.Hour
)

// DefaultAutoconfigURLs are the per-domain autoconfig locations, with
// {domain} and {email} placeholders.
var DefaultAutoconfigURLs = []string{
	"https://autoconfig.{domain}/mail/config-v1.1.xml?emailaddress={email}",
	"https://{domain}/.well-known/autoconfig/mail/config-v1.1.xml?emailaddress={email}",
}

// Cache remembers settings that worked for a domain.
type Cache interface {
	PutDiscovery(ctx context.Context, domain string, cfg model.ServerConfig) error
	GetDiscovery(ctx context.Context, domain string, maxAge time.Duration) (*model.ServerConfig, error)
}

// Prober checks that an endpoint speaks IMAP.
type Prober func(ctx context.Context, ep email.Endpoint) error

// Options configures a Service.
type Options struct {
	// ISPDBURL is the ISP database base URL; the domain is appended.
	// Set DisableISPDB to skip it.
	ISPDBURL     string
	DisableISPDB bool

	// AutoconfigURLs overrides DefaultAutoconfigURLs.
	AutoconfigURLs []string
	Autoconfig     bool

	// DNSServer is the SRV resolver address; empty reads resolv.conf.
	DNSServer string
	SRV       bool

	Probe        bool
	ProbeTimeout time.Duration
	Prober       Prober
	TLSConfig    *tls.Config

	HTTPClient *http.Client
	Cache      Cache
	CacheTTL   time.Duration
	Logger     *zap.Logger
}

// OptionsFromConfig maps the application config onto Options.
func OptionsFromConfig(cfg model.DiscoveryConfig) Options {
	return Options{
		ISPDBURL:     cfg.ISPDBURL,
		DisableISPDB: cfg.ISPDBURL == "",
		Autoconfig:   cfg.Autoconfig,
		DNSServer:    cfg.DNSServer,
		SRV:          true,
		Probe:        cfg.Probe,
		ProbeTimeout: cfg.ProbeTimeout(),
	}
}

// Service implements source.Discoverer.
type Service struct {
	opts    Options
	fetcher *fetcher
	srv     *srvResolver
	logger  *zap.Logger
}

var _ source.Discoverer = (*Service)(nil)

// NewService creates a discovery service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ISPDBURL == "" {
		opts.ISPDBURL = DefaultISPDBURL
	}
	if !strings.HasSuffix(opts.ISPDBURL, "/") {
		opts.ISPDBURL += "/"
	}
	if opts.AutoconfigURLs == nil {
		opts.AutoconfigURLs = DefaultAutoconfigURLs
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Prober == nil {
		tlsConfig := opts.TLSConfig
		opts.Prober = func(ctx context.Context, ep email.Endpoint) error {
			_, err := email.Probe(ctx, ep, tlsConfig)
			return err
		}
	}

	s := &Service{
		opts:    opts,
		fetcher: newFetcher(opts.HTTPClient, opts.Logger),
		logger:  opts.Logger,
	}

	if opts.SRV {
		r, err := newSRVResolver(opts.DNSServer, opts.ProbeTimeout)
		if err != nil {
			s.logger.Warn("SRV lookups disabled", zap.Error(err))
		} else {
			s.srv = r
		}
	}
	return s
}

// Discover resolves settings for hint. In automatic mode hint is an email
// address; in manual mode it is a server name or URL. A search that finds
// nothing is an unsuccessful result, not an error. Errors are reserved for
// a cancelled or expired context.
func (s *Service) Discover(ctx context.Context, hint string, manual bool) (*model.DiscoveryResult, error) {
	var res *model.DiscoveryResult
	if manual {
		res = s.discoverManual(ctx, hint)
	} else {
		res = s.discoverAuto(ctx, strings.TrimSpace(hint))
	}

	if !res.Success {
		if err := ctx.Err(); err != nil {
			return nil, source.Wrap("discover", err)
		}
	}

	s.logger.Info("discovery finished",
		zap.Bool("manual", manual),
		zap.Bool("success", res.Success),
		zap.Strings("tried", res.TriedEndpoints),
	)
	return res, nil
}

func (s *Service) discoverAuto(ctx context.Context, address string) *model.DiscoveryResult {
	res := &model.DiscoveryResult{TriedEndpoints: []string{}}

	domain := emailDomain(address)
	if domain == "" {
		res.ErrorMessage = "The email address has no domain."
		res.Suggestion = "Enter an address such as you@example.com."
		return res
	}

	if s.opts.Cache != nil {
		cfg, err := s.opts.Cache.GetDiscovery(ctx, domain, s.opts.CacheTTL)
		if err == nil {
			res.TriedEndpoints = append(res.TriedEndpoints, "cache:"+domain)
			return succeed(res, *cfg)
		}
	}

	if !s.opts.DisableISPDB {
		u := s.opts.ISPDBURL + url.PathEscape(domain)
		res.TriedEndpoints = append(res.TriedEndpoints, "ispdb:"+u)
		cfg, err := s.fetcher.lookup(ctx, u, address, true)
		if err == nil {
			return s.remember(ctx, domain, res, cfg)
		}
		s.logger.Debug("ispdb lookup failed", zap.String("domain", domain), zap.Error(err))
	}

	if s.opts.Autoconfig {
		for _, tmpl := range s.opts.AutoconfigURLs {
			if ctx.Err() != nil {
				return res
			}
			u := expandTemplate(tmpl, domain, address)
			res.TriedEndpoints = append(res.TriedEndpoints, "autoconfig:"+u)
			cfg, err := s.fetcher.lookup(ctx, u, address, false)
			if err == nil {
				return s.remember(ctx, domain, res, cfg)
			}
			s.logger.Debug("autoconfig lookup failed", zap.String("url", u), zap.Error(err))
		}
	}

	if s.srv != nil && ctx.Err() == nil {
		eps, queried, err := s.srv.lookup(ctx, domain)
		for _, q := range queried {
			res.TriedEndpoints = append(res.TriedEndpoints, "srv:"+q)
		}
		if err != nil {
			s.logger.Debug("SRV lookup failed", zap.String("domain", domain), zap.Error(err))
		}
		if len(eps) > 0 {
			return s.remember(ctx, domain, res, eps[0].ServerConfig(model.DiscoverySRV))
		}
	}

	if s.opts.Probe && ctx.Err() == nil {
		if ep, ok := s.probeFirst(ctx, guessEndpoints(domain), res); ok {
			return s.remember(ctx, domain, res, ep.ServerConfig(model.DiscoveryGuess))
		}
	}

	res.ErrorMessage = "Could not find mail server settings for " + domain + "."
	res.Suggestion = "Enter your IMAP server (for example imap." + domain + ") manually, or ask your email provider for its settings."
	return res
}

func (s *Service) discoverManual(ctx context.Context, hint string) *model.DiscoveryResult {
	res := &model.DiscoveryResult{TriedEndpoints: []string{}}

	eps, err := ParseHint(hint)
	if err != nil {
		res.ErrorMessage = err.Error()
		res.Suggestion = "Use a server name such as imap.example.com, imap.example.com:993 or imaps://imap.example.com."
		return res
	}

	if !s.opts.Probe {
		res.TriedEndpoints = append(res.TriedEndpoints, "manual:"+eps[0].URL())
		return succeed(res, eps[0].ServerConfig(model.DiscoveryManual))
	}

	if ep, ok := s.probeFirst(ctx, eps, res); ok {
		return succeed(res, ep.ServerConfig(model.DiscoveryManual))
	}

	res.ErrorMessage = "No IMAP server answered at " + strings.TrimSpace(hint) + "."
	res.Suggestion = "Check the server name and port. Most providers use port 993 with SSL."
	return res
}

// probeFirst probes all candidates concurrently and returns the most
// preferred one that answered.
func (s *Service) probeFirst(ctx context.Context, eps []email.Endpoint, res *model.DiscoveryResult) (email.Endpoint, bool) {
	ok := make([]bool, len(eps))
	var wg sync.WaitGroup
	for i, ep := range eps {
		res.TriedEndpoints = append(res.TriedEndpoints, "probe:"+ep.URL())

		wg.Add(1)
		go func(i int, ep email.Endpoint) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
			defer cancel()
			if err := s.opts.Prober(pctx, ep); err != nil {
				s.logger.Debug("probe failed", zap.Stringer("endpoint", ep), zap.Error(err))
				return
			}
			ok[i] = true
		}(i, ep)
	}
	wg.Wait()

	for i, ep := range eps {
		if ok[i] {
			return ep, true
		}
	}
	return email.Endpoint{}, false
}

// remember caches cfg for domain and marks res successful.
func (s *Service) remember(ctx context.Context, domain string, res *model.DiscoveryResult, cfg model.ServerConfig) *model.DiscoveryResult {
	if s.opts.Cache != nil {
		if err := s.opts.Cache.PutDiscovery(ctx, domain, cfg); err != nil {
			s.logger.Warn("caching discovery result", zap.String("domain", domain), zap.Error(err))
		}
	}
	return succeed(res, cfg)
}

func succeed(res *model.DiscoveryResult, cfg model.ServerConfig) *model.DiscoveryResult {
	res.Success = true
	res.Config = &cfg
	res.ErrorMessage = ""
	res.Suggestion = ""
	return res
}

func expandTemplate(tmpl, domain, address string) string {
	return strings.NewReplacer(
		"{domain}", domain,
		"{email}", url.QueryEscape(address),
	).Replace(tmpl)
}

func emailDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(address[at+1:], "."))
}
