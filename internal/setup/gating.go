package setup

import "github.com/nhle/mailsetup/internal/model"

// IsStepComplete reports whether step has produced its data and the flow
// has moved past it.
func IsStepComplete(s State, step Step) bool {
	switch step {
	case StepEmail:
		return s.EmailAddress != "" && s.Step > StepEmail
	case StepDiscovery:
		return s.DiscoveryResult != nil && s.Step > StepDiscovery
	case StepManual:
		return s.ServerConfig != nil &&
			s.ServerConfig.DiscoveryMethod == model.DiscoveryManual &&
			s.Step > StepManual
	case StepAuth:
		return s.Credentials != nil && s.Step > StepAuth
	case StepTesting:
		return s.TestResult != nil && s.TestResult.Success
	case StepSuccess:
		return s.Step == StepSuccess
	}
	return false
}

// IsManualStepVisible reports whether manual server configuration should
// be offered: the last discovery did not succeed, or no discovery result
// exists while the flow sits on the Manual step (discovery failed outright
// or was skipped).
func IsManualStepVisible(s State) bool {
	if s.DiscoveryResult != nil {
		return !s.DiscoveryResult.Success
	}
	return s.Step == StepManual
}

// CanAdvanceTo reports whether the flow may currently enter step. It asks
// the same guards Reduce uses for the events that lead into that step, so
// the two cannot drift apart.
func CanAdvanceTo(s State, step Step) bool {
	switch step {
	case StepEmail:
		return stateGuard(s, InitializeSetup{}) == nil
	case StepDiscovery:
		return stateGuard(s, SubmitEmail{}) == nil ||
			stateGuard(s, RetryDiscovery{}) == nil
	case StepManual:
		return stateGuard(s, SkipDiscovery{}) == nil ||
			(!s.IsLoading && IsManualStepVisible(s))
	case StepAuth:
		return stateGuard(s, DiscoverySucceeded{}) == nil ||
			stateGuard(s, SubmitCredentials{}) == nil ||
			stateGuard(s, EditSettings{}) == nil
	case StepTesting:
		return stateGuard(s, SubmitCredentials{}) == nil ||
			stateGuard(s, RetryTest{}) == nil
	case StepSuccess:
		return stateGuard(s, TestSucceeded{}) == nil ||
			stateGuard(s, RetryTest{}) == nil ||
			stateGuard(s, FinishSetup{}) == nil
	}
	return false
}

// View is a read-only snapshot of the setup together with its derived
// gating, as exposed to presentation layers.
type View struct {
	State         State         `json:"state"`
	ManualVisible bool          `json:"manual_visible"`
	Completed     map[Step]bool `json:"completed"`
	Reachable     map[Step]bool `json:"reachable"`
}

// NewView derives the gating predicates for s.
func NewView(s State) View {
	v := View{
		State:         s.Clone(),
		ManualVisible: IsManualStepVisible(s),
		Completed:     make(map[Step]bool, len(Steps)),
		Reachable:     make(map[Step]bool, len(Steps)),
	}
	for _, step := range Steps {
		v.Completed[step] = IsStepComplete(s, step)
		v.Reachable[step] = CanAdvanceTo(s, step)
	}
	return v
}
