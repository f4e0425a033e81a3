package setup

import (
	"strings"

	"github.com/nhle/mailsetup/internal/model"
)

// Messages used when an adapter outcome carries no usable payload.
const (
	msgDiscoveryNoConfig = "Discovery reported success but returned no server settings."
	msgDiscoveryNoResult = "Discovery returned no result."
	msgDiscoveryFailed   = "Could not discover the mail server settings."
	msgTestNoResult      = "The connection test returned no result."
	msgTestFailed        = "The connection test failed."
	msgCreateNoAccount   = "The account could not be created."
)

// Effect describes the external operation a transition asks the caller to
// run. The zero Effect means nothing to run.
type Effect struct {
	Op Operation

	// Hint is the discover input: an email address or, for
	// OpManualDiscover, a server name or URL.
	Hint string

	// Server and Credentials are the testConnection inputs.
	Server      model.ServerConfig
	Credentials model.Credentials
}

// None reports whether the effect requests no operation.
func (e Effect) None() bool {
	return e.Op == OpNone
}

// Reduce computes the state that follows s when ev is dispatched, plus the
// operation to start, if any. It is pure: the same inputs always give the
// same outputs and s is never modified.
//
// An event that is not applicable returns s unchanged together with
// ErrBusy, ErrNotApplicable or a *ValidationError.
func Reduce(s State, ev Event) (State, Effect, error) {
	if err := Check(s, ev); err != nil {
		return s, Effect{}, err
	}

	next := s.Clone()

	switch e := ev.(type) {
	case InitializeSetup, ClearSetup:
		return DefaultState(), Effect{}, nil

	case SubmitEmail:
		addr := strings.TrimSpace(e.Address)
		next.EmailAddress = addr
		next.Step = StepDiscovery
		next.Error = ""
		startOp(&next, OpDiscover)
		return next, Effect{Op: OpDiscover, Hint: addr}, nil

	case SkipDiscovery:
		next.EmailAddress = strings.TrimSpace(e.Address)
		next.Step = StepManual
		next.Error = ""
		return next, Effect{}, nil

	case RetryDiscovery:
		next.Step = StepDiscovery
		next.Error = ""
		next.DiscoveryResult = nil
		next.ServerConfig = nil
		startOp(&next, OpDiscover)
		return next, Effect{Op: OpDiscover, Hint: next.EmailAddress}, nil

	case SubmitManualConfig:
		hint := strings.TrimSpace(e.ServerHint)
		next.Error = ""
		startOp(&next, OpManualDiscover)
		return next, Effect{Op: OpManualDiscover, Hint: hint}, nil

	case DiscoverySucceeded:
		manual := s.Pending == OpManualDiscover
		finishOp(&next)
		applyDiscovery(&next, e.Result, manual)
		return next, Effect{}, nil

	case DiscoveryFailed:
		finishOp(&next)
		next.Step = StepManual
		next.ServerConfig = nil
		next.Error = orDefault(e.Message, msgDiscoveryFailed)
		return next, Effect{}, nil

	case SubmitCredentials:
		creds := model.Credentials{
			Username: strings.TrimSpace(e.Credentials.Username),
			Password: e.Credentials.Password,
		}
		details := model.AccountDetails{
			AccountName: strings.TrimSpace(e.Details.AccountName),
			DisplayName: strings.TrimSpace(e.Details.DisplayName),
		}
		next.Credentials = &creds
		next.AccountDetails = &details
		next.Step = StepTesting
		next.Error = ""
		next.TestResult = nil
		startOp(&next, OpTest)
		return next, testEffect(next), nil

	case TestSucceeded:
		finishOp(&next)
		if e.Result == nil {
			next.Error = msgTestNoResult
			return next, Effect{}, nil
		}
		result := *e.Result
		next.TestResult = &result
		if result.Success {
			next.Step = StepSuccess
			next.Error = ""
		}
		return next, Effect{}, nil

	case TestFailed:
		finishOp(&next)
		next.Error = orDefault(e.Message, msgTestFailed)
		return next, Effect{}, nil

	case RetryTest:
		next.Error = ""
		next.TestResult = nil
		startOp(&next, OpTest)
		return next, testEffect(next), nil

	case EditSettings:
		next.Step = StepAuth
		next.Error = ""
		next.TestResult = nil
		return next, Effect{}, nil

	case FinishSetup:
		next.Error = ""
		startOp(&next, OpCreate)
		return next, Effect{Op: OpCreate}, nil

	case AccountCreated:
		if e.Account == nil {
			finishOp(&next)
			next.Error = msgCreateNoAccount
			return next, Effect{}, nil
		}
		// The account now belongs to the caller; the setup is torn down.
		return DefaultState(), Effect{}, nil

	case AccountCreationFailed:
		finishOp(&next)
		next.Error = orDefault(e.Message, msgCreateNoAccount)
		return next, Effect{}, nil
	}

	// Unreachable: Check rejects unknown events.
	return s, Effect{}, ErrNotApplicable
}

// applyDiscovery routes a completed discovery. A success without a config
// is treated as a failure.
func applyDiscovery(next *State, r *model.DiscoveryResult, manual bool) {
	var result model.DiscoveryResult
	if r == nil {
		result = model.DiscoveryResult{ErrorMessage: msgDiscoveryNoResult}
	} else {
		result = *r
		result.TriedEndpoints = append([]string(nil), r.TriedEndpoints...)
	}

	if result.Success && result.Config == nil {
		result.Success = false
		result.ErrorMessage = orDefault(result.ErrorMessage, msgDiscoveryNoConfig)
	}

	if result.Config != nil {
		cfg := *result.Config
		result.Config = &cfg
	}
	next.DiscoveryResult = &result
	next.Error = ""

	if !result.Success {
		next.ServerConfig = nil
		next.Step = StepManual
		return
	}

	cfg := *result.Config
	if manual {
		cfg.DiscoveryMethod = model.DiscoveryManual
	}
	next.ServerConfig = &cfg
	next.Step = StepAuth
}

func testEffect(s State) Effect {
	return Effect{
		Op:          OpTest,
		Server:      *s.ServerConfig,
		Credentials: *s.Credentials,
	}
}

func startOp(s *State, op Operation) {
	s.IsLoading = true
	s.Pending = op
}

func finishOp(s *State) {
	s.IsLoading = false
	s.Pending = OpNone
}

func orDefault(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}

// DiscoveryUsable reports whether r is a success that can be acted on.
// Callers use it to flag results whose success flag cannot be trusted.
func DiscoveryUsable(r *model.DiscoveryResult) bool {
	return r != nil && r.Success && r.Config != nil
}
