// Package wizard is the terminal front end of the account setup workflow.
package wizard

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/mailsetup/internal/keys"
	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/theme"
)

// ErrCancelled is returned by Run when the user abandons the setup.
var ErrCancelled = errors.New("setup cancelled")

// Mode is the screen the wizard is showing.
type Mode int

const (
	ModeEmail      Mode = iota // Email address and discovery choice
	ModeLoading                // Waiting on discovery, test or save
	ModeManual                 // Server hint after discovery failed or was skipped
	ModeAuth                   // Credentials and account details
	ModeTestFailed             // Connection test failed
	ModeConfirm                // Test passed, waiting for the user to save
	ModeDone                   // Account saved
)

// Notifier turns workflow change callbacks into wizard updates. Signals
// coalesce: the wizard always reads the latest state.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a Notifier. Pass its OnChange to setup.Options.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// OnChange never blocks; it is called with the workflow lock held.
func (n *Notifier) OnChange(setup.View) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// changedMsg reports that the workflow state may have moved.
type changedMsg struct{}

// refreshMsg asks for a sync without re-arming the listener.
type refreshMsg struct{}

func (n *Notifier) listen() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return changedMsg{}
	}
}

// fields holds the values huh binds to. It lives behind a pointer so the
// bindings survive Model copies.
type fields struct {
	email  string
	method string

	action string
	hint   string

	username    string
	password    string
	accountName string
	displayName string
}

const (
	methodAuto   = "auto"
	methodManual = "manual"

	actionManual = "manual"
	actionRetry  = "retry"
	actionCancel = "cancel"
)

// Model is the Bubble Tea model driving one setup.Workflow.
type Model struct {
	wf     *setup.Workflow
	notify *Notifier
	keys   *keys.KeyMap

	state setup.State
	mode  Mode
	form  *huh.Form
	f     *fields

	spinner spinner.Model
	help    help.Model

	finishing bool
	account   *model.Account
	cancelled bool
	statusMsg string

	width, height int
}

// New creates a wizard for wf. n must be the Notifier whose OnChange the
// workflow calls.
func New(wf *setup.Workflow, n *Notifier, k *keys.KeyMap) Model {
	if k == nil {
		k = keys.DefaultKeyMap()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	h := help.New()
	h.Styles.ShortKey = theme.HelpStyle.Bold(true)
	h.Styles.ShortDesc = theme.HelpStyle
	h.Styles.ShortSeparator = theme.MutedStyle

	return Model{
		wf:      wf,
		notify:  n,
		keys:    k,
		mode:    -1,
		f:       &fields{method: methodAuto, action: actionManual},
		spinner: sp,
		help:    h,
		width:   80,
	}
}

// Run shows the wizard until the account is saved or the user cancels.
func Run(ctx context.Context, wf *setup.Workflow, n *Notifier, opts ...tea.ProgramOption) (*model.Account, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(New(wf, n, nil), opts...).Run()
	if err != nil {
		return nil, err
	}

	m, ok := final.(Model)
	if !ok || m.cancelled || m.account == nil {
		return nil, ErrCancelled
	}
	return m.account, nil
}

// Init syncs with the workflow and starts listening for changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.notify.listen(),
		func() tea.Msg { return refreshMsg{} },
	)
}

// Update handles messages and dispatches based on the current mode.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case changedMsg:
		next, cmd := m.sync()
		return next, tea.Batch(cmd, m.notify.listen())

	case refreshMsg:
		return m.sync()

	case spinner.TickMsg:
		if m.mode == ModeLoading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m.updateForm(msg)
}

// Mode returns the current screen.
func (m Model) Mode() Mode {
	return m.mode
}

// Account returns the saved account once the wizard is done.
func (m Model) Account() *model.Account {
	return m.account
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Cancel) && m.mode != ModeDone {
		return m.cancel()
	}

	switch m.mode {
	case ModeTestFailed:
		switch {
		case key.Matches(msg, m.keys.Retry):
			return m.dispatch(setup.RetryTest{})
		case key.Matches(msg, m.keys.Edit):
			return m.dispatch(setup.EditSettings{})
		}
		return m, nil

	case ModeConfirm:
		if key.Matches(msg, m.keys.Confirm) {
			m.finishing = true
			return m.dispatch(setup.FinishSetup{})
		}
		return m, nil

	case ModeDone:
		return m, tea.Quit

	case ModeLoading:
		return m, nil
	}

	return m.updateForm(msg)
}

// sync reads the workflow state and switches screens when needed.
func (m Model) sync() (Model, tea.Cmd) {
	m.state = m.wf.Snapshot()

	if m.finishing && !m.state.IsLoading {
		if acc := m.wf.Account(); acc != nil {
			m.account = acc
			m.mode = ModeDone
			m.form = nil
			return m, tea.Quit
		}
	}

	next := modeFor(m.state)
	stale := m.form != nil && m.form.State != huh.StateNormal
	if next == m.mode && !stale {
		return m, nil
	}

	prev := m.mode
	m.mode = next
	m.form = nil
	if next != ModeLoading && prev == ModeLoading {
		m.statusMsg = ""
	}

	switch next {
	case ModeLoading:
		return m, m.spinner.Tick
	case ModeEmail:
		m.form = m.buildEmailForm()
	case ModeManual:
		m.form = m.buildManualForm()
	case ModeAuth:
		m.form = m.buildAuthForm()
	default:
		return m, nil
	}
	return m, m.form.Init()
}

func modeFor(s setup.State) Mode {
	if s.IsLoading {
		return ModeLoading
	}
	switch s.Step {
	case setup.StepEmail:
		return ModeEmail
	case setup.StepManual, setup.StepDiscovery:
		return ModeManual
	case setup.StepAuth:
		return ModeAuth
	case setup.StepTesting:
		return ModeTestFailed
	case setup.StepSuccess:
		return ModeConfirm
	}
	return ModeEmail
}

func (m Model) dispatch(ev setup.Event) (tea.Model, tea.Cmd) {
	if err := m.wf.Dispatch(ev); err != nil {
		m.statusMsg = describe(err)
		// Rebuild the form so the user can correct the input.
		m.mode = -1
	} else {
		m.statusMsg = ""
	}
	return m.sync()
}

func (m Model) cancel() (tea.Model, tea.Cmd) {
	_ = m.wf.Dispatch(setup.ClearSetup{})
	m.cancelled = true
	m.form = nil
	return m, tea.Quit
}

func (m Model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateAborted:
		return m.cancel()
	case huh.StateCompleted:
		return m.submit()
	}
	return m, cmd
}

// submit turns a completed form into the matching workflow event.
func (m Model) submit() (tea.Model, tea.Cmd) {
	f := m.f
	switch m.mode {
	case ModeEmail:
		if f.method == methodManual {
			return m.dispatch(setup.SkipDiscovery{Address: f.email})
		}
		return m.dispatch(setup.SubmitEmail{Address: f.email})

	case ModeManual:
		switch f.action {
		case actionRetry:
			return m.dispatch(setup.RetryDiscovery{})
		case actionCancel:
			return m.cancel()
		}
		return m.dispatch(setup.SubmitManualConfig{ServerHint: f.hint})

	case ModeAuth:
		return m.dispatch(setup.SubmitCredentials{
			Credentials: model.Credentials{Username: f.username, Password: f.password},
			Details:     model.AccountDetails{AccountName: f.accountName, DisplayName: f.displayName},
		})
	}
	return m, nil
}

func describe(err error) string {
	var vErr *setup.ValidationError
	switch {
	case errors.As(err, &vErr):
		return vErr.Error()
	case errors.Is(err, setup.ErrBusy):
		return "Still working, please wait."
	default:
		return err.Error()
	}
}
