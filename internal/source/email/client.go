package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsetup/internal/source"
)

// Conn is an IMAP connection whose lifetime is bound to a context.
type Conn struct {
	*imapclient.Client
	stop func() bool
}

// Close logs out and releases the connection.
func (c *Conn) Close() error {
	c.stop()
	_ = c.Client.Logout().Wait()
	return c.Client.Close()
}

// Dial connects to ep, negotiates implicit TLS or STARTTLS and waits for
// the server greeting. Cancelling ctx tears the connection down; its
// deadline bounds every read and write.
func Dial(ctx context.Context, ep Endpoint, tlsConfig *tls.Config) (*Conn, error) {
	addr := ep.Addr()

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, source.Wrap("connecting to "+addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })

	cfg := clientTLSConfig(ep.Host, tlsConfig)
	opts := &imapclient.Options{TLSConfig: cfg}

	var client *imapclient.Client
	if ep.TLS {
		conn := tls.Client(raw, cfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			stop()
			_ = raw.Close()
			return nil, source.Wrap("TLS handshake with "+addr, err)
		}
		client = imapclient.New(conn, opts)
	} else {
		client, err = imapclient.NewStartTLS(raw, opts)
		if err != nil {
			stop()
			_ = raw.Close()
			return nil, source.Wrap("STARTTLS with "+addr, err)
		}
	}

	if err := client.WaitGreeting(); err != nil {
		stop()
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, source.Wrap("greeting from "+addr, ctx.Err())
		}
		return nil, &source.OpError{
			Op:   "greeting from " + addr,
			Kind: kindForProtocolError(err),
			Err:  err,
		}
	}

	return &Conn{Client: client, stop: stop}, nil
}

// Probe checks that ep speaks IMAP and returns its advertised capabilities.
func Probe(ctx context.Context, ep Endpoint, tlsConfig *tls.Config) ([]string, error) {
	conn, err := Dial(ctx, ep, tlsConfig)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	caps := make([]string, 0, len(conn.Caps()))
	for c := range conn.Caps() {
		caps = append(caps, string(c))
	}
	sort.Strings(caps)
	return caps, nil
}

// clientTLSConfig returns a copy of base with ServerName set to host.
func clientTLSConfig(host string, base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// kindForProtocolError separates timeouts from servers that answered with
// something other than IMAP.
func kindForProtocolError(err error) source.Kind {
	if k := source.Classify(err); k == source.KindTimeout {
		return k
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return source.KindNetwork
	}
	return source.KindMalformedResponse
}

// imapStatus extracts the server's NO/BAD response from err.
func imapStatus(err error) (*imap.Error, bool) {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return imapErr, true
	}
	return nil, false
}

// describe formats an IMAP status response for users.
func describe(e *imap.Error) string {
	if e.Text != "" {
		return e.Text
	}
	return fmt.Sprintf("server replied %s", e.Type)
}
