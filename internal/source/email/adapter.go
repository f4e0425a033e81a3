package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
)

// Tester verifies IMAP settings by logging in and opening INBOX.
type Tester struct {
	timeout   time.Duration
	tlsConfig *tls.Config
	logger    *zap.Logger
}

var _ source.ConnectionTester = (*Tester)(nil)

// TesterOption customizes a Tester.
type TesterOption func(*Tester)

// WithTLSConfig sets the TLS configuration used for every connection.
func WithTLSConfig(cfg *tls.Config) TesterOption {
	return func(t *Tester) { t.tlsConfig = cfg }
}

// WithLogger sets the tester's logger.
func WithLogger(l *zap.Logger) TesterOption {
	return func(t *Tester) { t.logger = l }
}

// NewTester creates a Tester. A positive timeout caps each test in
// addition to the caller's context.
func NewTester(timeout time.Duration, opts ...TesterOption) *Tester {
	t := &Tester{timeout: timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TestConnection connects to cfg, authenticates with creds and selects
// INBOX read-only. A rejected login is a *source.AuthError.
func (t *Tester) TestConnection(
	ctx context.Context,
	cfg model.ServerConfig,
	creds model.Credentials,
) (*model.TestResult, error) {
	ep := EndpointFor(cfg)
	if !ep.Valid() {
		return &model.TestResult{
			Success: false,
			Message: fmt.Sprintf("Incomplete server settings: %q port %d.", cfg.Host, cfg.Port),
		}, nil
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := Dial(ctx, ep, t.tlsConfig)
	if err != nil {
		t.logger.Debug("imap dial failed", zap.Stringer("endpoint", ep), zap.Error(err))
		return nil, err
	}
	defer conn.Close()

	if err := conn.Login(creds.Username, creds.Password).Wait(); err != nil {
		if status, ok := imapStatus(err); ok {
			return nil, &source.AuthError{
				Host: ep.Host,
				Message: fmt.Sprintf(
					"authentication failed for %s: %s",
					creds.Username, describe(status),
				),
			}
		}
		return nil, source.Wrap("login", err)
	}

	data, err := conn.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		if status, ok := imapStatus(err); ok {
			return &model.TestResult{
				Success: false,
				Message: fmt.Sprintf("Logged in, but INBOX could not be opened: %s", describe(status)),
			}, nil
		}
		return nil, source.Wrap("selecting INBOX", err)
	}

	t.logger.Info("imap connection verified",
		zap.Stringer("endpoint", ep),
		zap.Uint32("messages", data.NumMessages),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &model.TestResult{
		Success: true,
		Message: fmt.Sprintf("Connected to %s. INBOX has %d messages.", ep.Host, data.NumMessages),
	}, nil
}
