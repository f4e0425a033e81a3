package setup

import (
	"fmt"

	"github.com/nhle/mailsetup/internal/model"
)

// Step is a position in the onboarding flow. Declaration order is the
// flow order, so steps compare with < and >.
type Step int

const (
	StepEmail Step = iota
	StepDiscovery
	StepManual
	StepAuth
	StepTesting
	StepSuccess
)

// Steps lists every step in flow order.
var Steps = []Step{
	StepEmail, StepDiscovery, StepManual, StepAuth, StepTesting, StepSuccess,
}

var stepNames = map[Step]string{
	StepEmail:     "email",
	StepDiscovery: "discovery",
	StepManual:    "manual",
	StepAuth:      "auth",
	StepTesting:   "testing",
	StepSuccess:   "success",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// MarshalText encodes the step by name.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a step name.
func (s *Step) UnmarshalText(b []byte) error {
	for step, name := range stepNames {
		if name == string(b) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", b)
}

// Operation identifies the external operation a state is waiting on.
type Operation int

const (
	OpNone Operation = iota
	OpDiscover
	OpManualDiscover
	OpTest
	OpCreate
)

var opNames = map[Operation]string{
	OpNone:           "none",
	OpDiscover:       "discover",
	OpManualDiscover: "manual-discover",
	OpTest:           "test",
	OpCreate:         "create",
}

func (o Operation) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// MarshalText encodes the operation by name.
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an operation name.
func (o *Operation) UnmarshalText(b []byte) error {
	for op, name := range opNames {
		if name == string(b) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", b)
}

// State is the accumulated data of one account setup. It is replaced, never
// mutated in place: Reduce returns a fresh value.
type State struct {
	Step            Step                   `json:"step"`
	EmailAddress    string                 `json:"email_address,omitempty"`
	DiscoveryResult *model.DiscoveryResult `json:"discovery_result,omitempty"`
	ServerConfig    *model.ServerConfig    `json:"server_config,omitempty"`
	Credentials     *model.Credentials     `json:"credentials,omitempty"`
	AccountDetails  *model.AccountDetails  `json:"account_details,omitempty"`
	TestResult      *model.TestResult      `json:"test_result,omitempty"`
	IsLoading       bool                   `json:"is_loading"`
	Error           string                 `json:"error,omitempty"`

	// Pending is the operation whose completion event is awaited.
	Pending Operation `json:"pending"`
}

// DefaultState returns the state of a freshly initialized setup.
func DefaultState() State {
	return State{Step: StepEmail}
}

// Clone returns a deep copy so callers can never alias the owner's data.
func (s State) Clone() State {
	out := s
	if s.DiscoveryResult != nil {
		dr := *s.DiscoveryResult
		dr.TriedEndpoints = append([]string(nil), s.DiscoveryResult.TriedEndpoints...)
		if s.DiscoveryResult.Config != nil {
			cfg := *s.DiscoveryResult.Config
			dr.Config = &cfg
		}
		out.DiscoveryResult = &dr
	}
	if s.ServerConfig != nil {
		cfg := *s.ServerConfig
		out.ServerConfig = &cfg
	}
	if s.Credentials != nil {
		c := *s.Credentials
		out.Credentials = &c
	}
	if s.AccountDetails != nil {
		d := *s.AccountDetails
		out.AccountDetails = &d
	}
	if s.TestResult != nil {
		tr := *s.TestResult
		out.TestResult = &tr
	}
	return out
}

// AccountRequest builds the createAccount input from the accumulated state.
func (s State) AccountRequest(userID string) model.AccountRequest {
	req := model.AccountRequest{
		UserID:       userID,
		EmailAddress: s.EmailAddress,
	}
	if s.ServerConfig != nil {
		req.Server = *s.ServerConfig
	}
	if s.Credentials != nil {
		req.Credentials = *s.Credentials
	}
	if s.AccountDetails != nil {
		req.Details = *s.AccountDetails
	}
	return req
}
