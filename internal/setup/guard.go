package setup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when a triggering event arrives while an operation
// is outstanding.
var ErrBusy = errors.New("setup: an operation is already in progress")

// ErrNotApplicable is returned when an event does not apply to the current
// step (or, for operation outcomes, when that operation is not awaited).
var ErrNotApplicable = errors.New("setup: event not applicable in current state")

// ValidationError reports a malformed event payload. The state is left
// unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// ValidateEmail checks that address has a non-empty local part and domain
// separated by '@'.
func ValidateEmail(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return &ValidationError{Field: "email", Message: "address is required"}
	}
	if strings.ContainsAny(address, " \t\r\n") {
		return &ValidationError{Field: "email", Message: "address must not contain whitespace"}
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return &ValidationError{Field: "email", Message: "address must look like user@example.com"}
	}
	return nil
}

// EmailDomain returns the part of address after the last '@'.
func EmailDomain(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// blockedWhileLoading reports whether ev is a user action that must wait
// for the outstanding operation. InitializeSetup and ClearSetup always win.
func blockedWhileLoading(ev Event) bool {
	switch ev.(type) {
	case SubmitEmail, SkipDiscovery, RetryDiscovery, SubmitManualConfig,
		SubmitCredentials, RetryTest, EditSettings, FinishSetup:
		return true
	}
	return false
}

// stateGuard checks whether ev is applicable to s, ignoring the payload.
// Both Reduce and the gating predicates derive from it.
func stateGuard(s State, ev Event) error {
	if blockedWhileLoading(ev) && s.IsLoading {
		return ErrBusy
	}

	switch ev.(type) {
	case InitializeSetup, ClearSetup:
		return nil

	case SubmitEmail, SkipDiscovery:
		if s.Step != StepEmail {
			return ErrNotApplicable
		}

	case RetryDiscovery:
		if (s.Step != StepDiscovery && s.Step != StepManual) || s.EmailAddress == "" {
			return ErrNotApplicable
		}

	case SubmitManualConfig:
		if s.Step != StepManual {
			return ErrNotApplicable
		}

	case SubmitCredentials:
		if s.Step != StepAuth || s.ServerConfig == nil {
			return ErrNotApplicable
		}

	case RetryTest:
		if s.Step != StepTesting || s.ServerConfig == nil || s.Credentials == nil {
			return ErrNotApplicable
		}

	case EditSettings:
		if s.Step != StepTesting {
			return ErrNotApplicable
		}

	case FinishSetup:
		if s.Step != StepSuccess || s.TestResult == nil || !s.TestResult.Success {
			return ErrNotApplicable
		}

	case DiscoverySucceeded, DiscoveryFailed:
		if !s.IsLoading || (s.Pending != OpDiscover && s.Pending != OpManualDiscover) {
			return ErrNotApplicable
		}

	case TestSucceeded, TestFailed:
		if !s.IsLoading || s.Pending != OpTest {
			return ErrNotApplicable
		}

	case AccountCreated, AccountCreationFailed:
		if !s.IsLoading || s.Pending != OpCreate {
			return ErrNotApplicable
		}

	default:
		return fmt.Errorf("setup: unknown event %T", ev)
	}

	return nil
}

// payloadGuard validates the data carried by ev.
func payloadGuard(ev Event) error {
	switch e := ev.(type) {
	case SubmitEmail:
		return ValidateEmail(e.Address)
	case SkipDiscovery:
		return ValidateEmail(e.Address)
	case SubmitManualConfig:
		return required("server", e.ServerHint)
	case SubmitCredentials:
		if err := required("username", e.Credentials.Username); err != nil {
			return err
		}
		if err := required("password", e.Credentials.Password); err != nil {
			return err
		}
		return required("account name", e.Details.AccountName)
	}
	return nil
}

// Check reports whether ev would be accepted by Reduce from s. It returns
// ErrBusy, ErrNotApplicable or a *ValidationError when it would not.
func Check(s State, ev Event) error {
	if err := stateGuard(s, ev); err != nil {
		return err
	}
	return payloadGuard(ev)
}
