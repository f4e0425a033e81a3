package setup

import (
	"encoding/json"
	"fmt"

	"github.com/nhle/mailsetup/internal/model"
)

// Event is anything that can be dispatched to the workflow: a user action
// or the classified outcome of an external operation.
type Event interface {
	// Name is the wire name of the event.
	Name() string
}

// User actions.
type (
	// InitializeSetup starts a fresh setup at the Email step.
	InitializeSetup struct{}

	// ClearSetup abandons the setup.
	ClearSetup struct{}

	// SubmitEmail records the address and starts automatic discovery.
	SubmitEmail struct {
		Address string
	}

	// SkipDiscovery records the address and goes straight to manual
	// configuration.
	SkipDiscovery struct {
		Address string
	}

	// RetryDiscovery re-runs automatic discovery for the stored address.
	RetryDiscovery struct{}

	// SubmitManualConfig runs discovery against a user-supplied server name
	// or URL.
	SubmitManualConfig struct {
		ServerHint string
	}

	// SubmitCredentials records the login and labels and starts the
	// connection test.
	SubmitCredentials struct {
		Credentials model.Credentials
		Details     model.AccountDetails
	}

	// RetryTest re-runs the connection test with the stored settings.
	RetryTest struct{}

	// EditSettings leaves a failed test and returns to the Auth step.
	EditSettings struct{}

	// FinishSetup persists the account.
	FinishSetup struct{}
)

// Operation outcomes, produced by the adapters.
type (
	DiscoverySucceeded struct {
		Result *model.DiscoveryResult
	}

	DiscoveryFailed struct {
		Message string
	}

	TestSucceeded struct {
		Result *model.TestResult
	}

	TestFailed struct {
		Message string
	}

	AccountCreated struct {
		Account *model.Account
	}

	AccountCreationFailed struct {
		Message string
	}
)

func (InitializeSetup) Name() string       { return "initialize_setup" }
func (ClearSetup) Name() string            { return "clear_setup" }
func (SubmitEmail) Name() string           { return "submit_email" }
func (SkipDiscovery) Name() string         { return "skip_discovery" }
func (RetryDiscovery) Name() string        { return "retry_discovery" }
func (SubmitManualConfig) Name() string    { return "submit_manual_config" }
func (SubmitCredentials) Name() string     { return "submit_credentials" }
func (RetryTest) Name() string             { return "retry_test" }
func (EditSettings) Name() string          { return "edit_settings" }
func (FinishSetup) Name() string           { return "finish_setup" }
func (DiscoverySucceeded) Name() string    { return "discovery_succeeded" }
func (DiscoveryFailed) Name() string       { return "discovery_failed" }
func (TestSucceeded) Name() string         { return "test_succeeded" }
func (TestFailed) Name() string            { return "test_failed" }
func (AccountCreated) Name() string        { return "account_created" }
func (AccountCreationFailed) Name() string { return "account_creation_failed" }

// envelope is the wire form of a user action.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type addressPayload struct {
	Address string `json:"address"`
}

type manualPayload struct {
	ServerHint string `json:"server_hint"`
}

type credentialsPayload struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	AccountName string `json:"account_name"`
	DisplayName string `json:"display_name"`
}

// DecodeEvent parses a user action of the form {"type": ..., "payload": ...}.
// Operation outcomes cannot be decoded: only adapters produce them.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	switch env.Type {
	case InitializeSetup{}.Name():
		return InitializeSetup{}, nil
	case ClearSetup{}.Name():
		return ClearSetup{}, nil
	case RetryDiscovery{}.Name():
		return RetryDiscovery{}, nil
	case RetryTest{}.Name():
		return RetryTest{}, nil
	case EditSettings{}.Name():
		return EditSettings{}, nil
	case FinishSetup{}.Name():
		return FinishSetup{}, nil

	case SubmitEmail{}.Name(), SkipDiscovery{}.Name():
		var p addressPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if env.Type == (SkipDiscovery{}).Name() {
			return SkipDiscovery{Address: p.Address}, nil
		}
		return SubmitEmail{Address: p.Address}, nil

	case SubmitManualConfig{}.Name():
		var p manualPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return SubmitManualConfig{ServerHint: p.ServerHint}, nil

	case SubmitCredentials{}.Name():
		var p credentialsPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		return SubmitCredentials{
			Credentials: model.Credentials{Username: p.Username, Password: p.Password},
			Details:     model.AccountDetails{AccountName: p.AccountName, DisplayName: p.DisplayName},
		}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decodePayload(env envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("event %q requires a payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return nil
}
