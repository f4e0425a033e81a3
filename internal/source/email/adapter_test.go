package email

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
	"github.com/nhle/mailsetup/internal/testutil"
)

func serverConfig(srv *testutil.IMAPServer) model.ServerConfig {
	return Endpoint{Host: srv.Host, Port: srv.Port, TLS: true}.ServerConfig(model.DiscoveryManual)
}

func TestTestConnection_Success(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "jane", "hunter2", 3)
	tester := NewTester(5*time.Second, WithTLSConfig(srv.ClientTLS))

	res, err := tester.TestConnection(context.Background(), serverConfig(srv),
		model.Credentials{Username: "jane", Password: "hunter2"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "3 messages")
	assert.Equal(t, 1, srv.Logins())
}

func TestTestConnection_BadPassword(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "jane", "hunter2", 0)
	tester := NewTester(5*time.Second, WithTLSConfig(srv.ClientTLS))

	_, err := tester.TestConnection(context.Background(), serverConfig(srv),
		model.Credentials{Username: "jane", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
	assert.Equal(t, source.KindServerRejected, source.Classify(err))
}

func TestTestConnection_Timeout(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "jane", "hunter2", 0)
	srv.Silence()
	tester := NewTester(100*time.Millisecond, WithTLSConfig(srv.ClientTLS))

	_, err := tester.TestConnection(context.Background(), serverConfig(srv),
		model.Credentials{Username: "jane", Password: "hunter2"})
	require.Error(t, err)
	assert.Equal(t, source.KindTimeout, source.Classify(err))
}

func TestTestConnection_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tester := NewTester(time.Second)
	_, err = tester.TestConnection(context.Background(),
		model.ServerConfig{Host: "127.0.0.1", Port: port, UseSSL: true},
		model.Credentials{Username: "jane", Password: "hunter2"})
	require.Error(t, err)
	assert.Equal(t, source.KindNetwork, source.Classify(err))
}

func TestTestConnection_IncompleteSettings(t *testing.T) {
	res, err := NewTester(time.Second).TestConnection(context.Background(),
		model.ServerConfig{Host: "", Port: 993}, model.Credentials{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestProbe(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "jane", "hunter2", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	caps, err := Probe(ctx, Endpoint{Host: srv.Host, Port: srv.Port, TLS: true}, srv.ClientTLS)
	require.NoError(t, err)
	assert.Contains(t, caps, "IMAP4rev1")
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint{Host: "imap.example.com", Port: 993, TLS: true}
	assert.Equal(t, "imaps://imap.example.com:993", ep.URL())
	assert.True(t, ep.Valid())

	cfg := Endpoint{Host: "mail.example.com", Port: 143}.ServerConfig(model.DiscoveryGuess)
	assert.Equal(t, "imap://mail.example.com:143", cfg.ProtocolURL)
	assert.False(t, cfg.UseSSL)
	assert.Equal(t, model.DiscoveryGuess, cfg.DiscoveryMethod)

	assert.False(t, Endpoint{Host: "x", Port: 70000}.Valid())
}
