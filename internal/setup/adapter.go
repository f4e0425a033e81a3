package setup

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
)

var errNotConfigured = errors.New("operation not configured")

// runDiscover calls d and translates its outcome into a discovery event.
func runDiscover(ctx context.Context, d source.Discoverer, hint string, manual bool) (ev Event) {
	defer recoverAs(&ev, func(msg string) Event { return DiscoveryFailed{Message: msg} })

	if d == nil {
		return DiscoveryFailed{Message: source.Message(source.Wrap("discover", errNotConfigured))}
	}
	result, err := d.Discover(ctx, hint, manual)
	if err != nil {
		return DiscoveryFailed{Message: source.Message(source.Wrap("discover", err))}
	}
	return DiscoverySucceeded{Result: result}
}

// runTest calls t and translates its outcome into a test event.
func runTest(
	ctx context.Context,
	t source.ConnectionTester,
	cfg model.ServerConfig,
	creds model.Credentials,
) (ev Event) {
	defer recoverAs(&ev, func(msg string) Event { return TestFailed{Message: msg} })

	if t == nil {
		return TestFailed{Message: source.Message(source.Wrap("test connection", errNotConfigured))}
	}
	result, err := t.TestConnection(ctx, cfg, creds)
	if err != nil {
		return TestFailed{Message: source.Message(source.Wrap("test connection", err))}
	}
	return TestSucceeded{Result: result}
}

// runCreate calls c and translates its outcome into a creation event.
func runCreate(ctx context.Context, c source.AccountCreator, req model.AccountRequest) (ev Event) {
	defer recoverAs(&ev, func(msg string) Event { return AccountCreationFailed{Message: msg} })

	if c == nil {
		return AccountCreationFailed{Message: source.Message(source.Wrap("create account", errNotConfigured))}
	}
	account, err := c.CreateAccount(ctx, req)
	if err != nil {
		return AccountCreationFailed{Message: fmt.Sprintf("Saving the account failed: %v", err)}
	}
	return AccountCreated{Account: account}
}

// recoverAs turns a panicking adapter into a failure event.
func recoverAs(ev *Event, fail func(string) Event) {
	if r := recover(); r != nil {
		*ev = fail(fmt.Sprintf("internal error: %v", r))
	}
}
