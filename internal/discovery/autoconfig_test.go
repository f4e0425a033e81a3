package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/source/email"
)

const sampleConfig = `<?xml version="1.0" encoding="UTF-8"?>
<clientConfig version="1.1">
  <emailProvider id="example.com">
    <domain>example.com</domain>
    <incomingServer type="pop3">
      <hostname>pop.example.com</hostname>
      <port>995</port>
      <socketType>SSL</socketType>
    </incomingServer>
    <incomingServer type="imap">
      <hostname>imap.%EMAILDOMAIN%</hostname>
      <port>143</port>
      <socketType>STARTTLS</socketType>
    </incomingServer>
    <incomingServer type="imap">
      <hostname>imap.%EMAILDOMAIN%</hostname>
      <port>993</port>
      <socketType>SSL</socketType>
    </incomingServer>
    <outgoingServer type="smtp">
      <hostname>smtp.example.com</hostname>
      <port>465</port>
      <socketType>SSL</socketType>
    </outgoingServer>
  </emailProvider>
</clientConfig>`

func TestParseClientConfig(t *testing.T) {
	ep, err := parseClientConfig([]byte(sampleConfig), "jane@Example.com")
	require.NoError(t, err)
	assert.Equal(t, email.Endpoint{Host: "imap.example.com", Port: 993, TLS: true}, ep)
}

func TestParseClientConfig_NoIMAP(t *testing.T) {
	doc := `<clientConfig><emailProvider id="x">
		<incomingServer type="imap"><hostname>imap.x</hostname><port>143</port><socketType>plain</socketType></incomingServer>
	</emailProvider></clientConfig>`

	_, err := parseClientConfig([]byte(doc), "a@x")
	assert.ErrorIs(t, err, errNoConfig)
}

func TestParseClientConfig_Malformed(t *testing.T) {
	_, err := parseClientConfig([]byte("<clientConfig><emailProvider>"), "a@x")
	require.Error(t, err)
	assert.Equal(t, source.KindMalformedResponse, source.Classify(err))
}

func TestFetcher_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/example.com" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleConfig))
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), zap.NewNop())

	cfg, err := f.lookup(context.Background(), srv.URL+"/example.com", "jane@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", cfg.Host)
	assert.Equal(t, model.DiscoveryISPDB, cfg.DiscoveryMethod)
	assert.Equal(t, "imaps://imap.example.com:993", cfg.ProtocolURL)

	_, err = f.lookup(context.Background(), srv.URL+"/unknown.test", "a@unknown.test", false)
	assert.ErrorIs(t, err, errNoConfig)
}

func TestFetcher_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), zap.NewNop())
	for i := 0; i < int(defaultCBMaxFailures); i++ {
		_, err := f.fetchISPDB(context.Background(), srv.URL+"/example.com")
		require.Error(t, err)
		assert.Equal(t, source.KindServerRejected, source.Classify(err))
	}

	_, err := f.fetchISPDB(context.Background(), srv.URL+"/example.com")
	assert.ErrorContains(t, err, "ISP database unavailable")
	assert.Equal(t, int32(defaultCBMaxFailures), hits.Load())
}

func TestFetcher_NotFoundDoesNotTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFetcher(srv.Client(), zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := f.fetchISPDB(context.Background(), srv.URL+"/x")
		assert.ErrorIs(t, err, errNoConfig)
	}
	assert.Equal(t, int32(5), hits.Load())
}
