package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/nhle/mailsetup/internal/model"
)

// AuthError indicates that the mail server rejected the supplied credentials.
type AuthError struct {
	Host    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Host, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Kind classifies adapter failures.
type Kind int

const (
	KindNetwork Kind = iota
	KindServerRejected
	KindTimeout
	KindMalformedResponse
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindServerRejected:
		return "server rejected"
	case KindTimeout:
		return "timeout"
	case KindMalformedResponse:
		return "malformed response"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// OpError is returned by the external operations (discover, testConnection,
// createAccount) once the underlying failure has been classified.
type OpError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Classify determines the Kind of an arbitrary error returned by a
// transport or server.
func Classify(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return KindTimeout
	}

	if IsAuthError(err) {
		return KindServerRejected
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Classify(urlErr.Err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindNetwork
}

// Wrap classifies err and wraps it as an OpError for op. Nil stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Kind: Classify(err), Err: err}
}

// Message returns a short user-facing message for an adapter failure.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "The server rejected the username or password."
	}

	switch Classify(err) {
	case KindTimeout:
		return "The server did not respond in time."
	case KindServerRejected:
		return fmt.Sprintf("The server rejected the request: %v", err)
	case KindMalformedResponse:
		return "The server sent a response that could not be understood."
	default:
		return fmt.Sprintf("Network error: %v", err)
	}
}

// Discoverer resolves mail server settings from an email address or, when
// manual is set, from a user-supplied server name or URL.
type Discoverer interface {
	Discover(ctx context.Context, hint string, manual bool) (*model.DiscoveryResult, error)
}

// ConnectionTester verifies that credentials work against a server.
type ConnectionTester interface {
	TestConnection(
		ctx context.Context,
		cfg model.ServerConfig,
		creds model.Credentials,
	) (*model.TestResult, error)
}

// AccountCreator persists a finished setup.
type AccountCreator interface {
	CreateAccount(ctx context.Context, req model.AccountRequest) (*model.Account, error)
}
