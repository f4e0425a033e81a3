package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/source/email"
	"github.com/nhle/mailsetup/internal/testutil"
)

// configServer serves sampleConfig for the listed paths and 404 otherwise.
func configServer(t *testing.T, paths ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range paths {
			if r.URL.Path == p {
				_, _ = w.Write([]byte(sampleConfig))
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeProber struct {
	mu    sync.Mutex
	alive map[string]bool
	seen  []string
}

func (p *fakeProber) probe(_ context.Context, ep email.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ep.URL())
	if p.alive[ep.URL()] {
		return nil
	}
	return errors.New("connection refused")
}

func TestDiscover_ISPDB(t *testing.T) {
	srv := configServer(t, "/v1.1/example.com")
	s := NewService(Options{
		ISPDBURL:   srv.URL + "/v1.1",
		HTTPClient: srv.Client(),
	})

	res, err := s.Discover(context.Background(), "jane@example.com", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, model.DiscoveryISPDB, res.Config.DiscoveryMethod)
	assert.Equal(t, "imap.example.com", res.Config.Host)
	assert.Equal(t, []string{"ispdb:" + srv.URL + "/v1.1/example.com"}, res.TriedEndpoints)
}

func TestDiscover_FallsThroughToAutoconfig(t *testing.T) {
	srv := configServer(t, "/auto/example.com")
	s := NewService(Options{
		ISPDBURL:       srv.URL + "/ispdb/",
		Autoconfig:     true,
		AutoconfigURLs: []string{srv.URL + "/wellknown/{domain}", srv.URL + "/auto/{domain}"},
		HTTPClient:     srv.Client(),
	})

	res, err := s.Discover(context.Background(), "jane@example.com", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, model.DiscoveryAutoconfig, res.Config.DiscoveryMethod)
	assert.Len(t, res.TriedEndpoints, 3)
}

func TestDiscover_GuessProbes(t *testing.T) {
	srv := configServer(t)
	prober := &fakeProber{alive: map[string]bool{
		"imap://mail.example.com:143":  true,
		"imaps://mail.example.com:993": true,
	}}
	s := NewService(Options{
		ISPDBURL:   srv.URL + "/",
		HTTPClient: srv.Client(),
		Probe:      true,
		Prober:     prober.probe,
	})

	res, err := s.Discover(context.Background(), "jane@example.com", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "mail.example.com", res.Config.Host)
	assert.True(t, res.Config.UseSSL, "implicit TLS is preferred")
	assert.Equal(t, model.DiscoveryGuess, res.Config.DiscoveryMethod)
	assert.Contains(t, res.TriedEndpoints, "probe:imaps://imap.example.com:993")
}

func TestDiscover_NothingFound(t *testing.T) {
	srv := configServer(t)
	s := NewService(Options{
		ISPDBURL:   srv.URL + "/",
		HTTPClient: srv.Client(),
		Probe:      true,
		Prober:     (&fakeProber{}).probe,
	})

	res, err := s.Discover(context.Background(), "jane@example.com", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Nil(t, res.Config)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.Contains(t, res.Suggestion, "imap.example.com")
	assert.Len(t, res.TriedEndpoints, 7)
}

func TestDiscover_Cache(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewTestStore(t)
	srv := configServer(t, "/example.com")

	s := NewService(Options{ISPDBURL: srv.URL, HTTPClient: srv.Client(), Cache: st})
	res, err := s.Discover(ctx, "jane@example.com", false)
	require.NoError(t, err)
	require.True(t, res.Success)

	// A second lookup is answered from the cache even with the server gone.
	srv.Close()
	res, err = s.Discover(ctx, "bob@EXAMPLE.com", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []string{"cache:example.com"}, res.TriedEndpoints)
	assert.Equal(t, "imap.example.com", res.Config.Host)
}

func TestDiscover_ManualWithRealServer(t *testing.T) {
	imap := testutil.NewIMAPServer(t, "jane", "hunter2", 0)
	s := NewService(Options{
		DisableISPDB: true,
		Probe:        true,
		ProbeTimeout: 2 * time.Second,
		TLSConfig:    imap.ClientTLS,
	})

	hint := fmt.Sprintf("imaps://%s:%d", imap.Host, imap.Port)
	res, err := s.Discover(context.Background(), hint, true)
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, model.DiscoveryManual, res.Config.DiscoveryMethod)
	assert.Equal(t, imap.Port, res.Config.Port)
	assert.True(t, res.Config.UseSSL)
}

func TestDiscover_ManualBadHint(t *testing.T) {
	s := NewService(Options{DisableISPDB: true, Probe: true, Prober: (&fakeProber{}).probe})

	res, err := s.Discover(context.Background(), "not a host", true)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.NotEmpty(t, res.Suggestion)
}

func TestDiscover_ManualWithoutProbe(t *testing.T) {
	s := NewService(Options{DisableISPDB: true})

	res, err := s.Discover(context.Background(), "mail.example.com:143", true)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "imap://mail.example.com:143", res.Config.ProtocolURL)
}

func TestDiscover_ContextExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewService(Options{ISPDBURL: srv.URL, HTTPClient: srv.Client()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Discover(ctx, "jane@example.com", false)
	require.Error(t, err)
	assert.Equal(t, source.KindTimeout, source.Classify(err))
}

func TestDiscover_AddressWithoutDomain(t *testing.T) {
	s := NewService(Options{DisableISPDB: true})

	res, err := s.Discover(context.Background(), "jane@", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.ErrorMessage, "domain"))
}
