package setup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/source"
)

// Default per-operation timeouts.
const (
	defaultDiscoverTimeout = 15 * time.Second
	defaultTestTimeout     = 20 * time.Second
	defaultCreateTimeout   = 10 * time.Second
)

// Options configures a Workflow.
type Options struct {
	// UserID owns the account created at the end of the flow.
	UserID string

	Discoverer source.Discoverer
	Tester     source.ConnectionTester
	Creator    source.AccountCreator

	DiscoverTimeout time.Duration
	TestTimeout     time.Duration
	CreateTimeout   time.Duration

	Logger *zap.Logger

	// OnChange is called with a fresh view after every accepted event.
	// It runs while the workflow is locked and must not call back into it.
	OnChange func(View)

	// OnComplete is called once an account has been created.
	OnComplete func(*model.Account)
}

// Workflow owns one account setup. Events are applied through Reduce;
// operations requested by a transition run on their own goroutine and
// report back as events. A completion that belongs to an abandoned
// generation (the setup was reset meanwhile) is dropped.
type Workflow struct {
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	gen     uint64
	done    chan struct{}
	account *model.Account

	// notifying is open while OnComplete runs so Wait covers the callback.
	notifying chan struct{}
}

// NewWorkflow creates a workflow in the default state.
func NewWorkflow(opts Options) *Workflow {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DiscoverTimeout <= 0 {
		opts.DiscoverTimeout = defaultDiscoverTimeout
	}
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = defaultTestTimeout
	}
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = defaultCreateTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		opts:   opts,
		logger: opts.Logger.With(zap.String("user_id", opts.UserID)),
		ctx:    ctx,
		cancel: cancel,
		state:  DefaultState(),
	}
}

// Snapshot returns a copy of the current state.
func (w *Workflow) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Clone()
}

// View returns the current state with its gating predicates.
func (w *Workflow) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return NewView(w.state)
}

// Account returns the account created by the last completed setup, if any.
func (w *Workflow) Account() *model.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.account
}

// Dispatch applies a user action. Rejected events leave the state untouched
// and return ErrBusy, ErrNotApplicable or a *ValidationError.
func (w *Workflow) Dispatch(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.apply(ev)
}

// apply runs ev through Reduce and starts the requested operation.
// w.mu must be held.
func (w *Workflow) apply(ev Event) error {
	prev := w.state
	next, effect, err := Reduce(prev, ev)
	if err != nil {
		w.logger.Debug("event ignored",
			zap.String("event", ev.Name()),
			zap.Stringer("step", prev.Step),
			zap.Error(err),
		)
		return err
	}

	switch ev.(type) {
	case InitializeSetup, ClearSetup, AccountCreated:
		// Anything still in flight belongs to the abandoned setup.
		w.gen++
		w.release()
	}

	w.state = next
	w.logger.Debug("event applied",
		zap.String("event", ev.Name()),
		zap.Stringer("from", prev.Step),
		zap.Stringer("to", next.Step),
		zap.Bool("loading", next.IsLoading),
	)

	if !effect.None() {
		w.gen++
		w.release()
		w.done = make(chan struct{})
		go w.run(w.gen, effect, next.AccountRequest(w.opts.UserID))
	} else if !next.IsLoading {
		w.release()
	}

	if w.opts.OnChange != nil {
		w.opts.OnChange(NewView(w.state))
	}
	return nil
}

// release wakes Wait callers. w.mu must be held.
func (w *Workflow) release() {
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
}

// run executes one operation and feeds its outcome back as an event.
func (w *Workflow) run(gen uint64, effect Effect, req model.AccountRequest) {
	var (
		ev      Event
		timeout time.Duration
	)

	switch effect.Op {
	case OpDiscover, OpManualDiscover:
		timeout = w.opts.DiscoverTimeout
	case OpTest:
		timeout = w.opts.TestTimeout
	case OpCreate:
		timeout = w.opts.CreateTimeout
	}

	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()

	start := time.Now()
	switch effect.Op {
	case OpDiscover, OpManualDiscover:
		ev = runDiscover(ctx, w.opts.Discoverer, effect.Hint, effect.Op == OpManualDiscover)
	case OpTest:
		ev = runTest(ctx, w.opts.Tester, effect.Server, effect.Credentials)
	case OpCreate:
		ev = runCreate(ctx, w.opts.Creator, req)
	default:
		return
	}

	w.logger.Info("operation finished",
		zap.Stringer("op", effect.Op),
		zap.String("outcome", ev.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)

	w.complete(gen, ev)
}

// complete applies an operation outcome unless its generation is stale.
func (w *Workflow) complete(gen uint64, ev Event) {
	w.mu.Lock()

	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Debug("discarding stale result", zap.String("event", ev.Name()))
		return
	}

	if e, ok := ev.(DiscoverySucceeded); ok && e.Result != nil && e.Result.Success && !DiscoveryUsable(e.Result) {
		w.logger.Warn("discovery reported success without a server config; treating as failure",
			zap.Strings("tried", e.Result.TriedEndpoints),
		)
	}

	var created *model.Account
	if e, ok := ev.(AccountCreated); ok && e.Account != nil {
		created = e.Account
	}

	err := w.apply(ev)
	if err != nil || created == nil {
		w.mu.Unlock()
		return
	}
	w.account = created
	if w.opts.OnComplete == nil {
		w.mu.Unlock()
		return
	}
	notifying := make(chan struct{})
	w.notifying = notifying
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.notifying == notifying {
			w.notifying = nil
		}
		w.mu.Unlock()
		close(notifying)
	}()
	w.opts.OnComplete(created)
}

// Wait blocks until no operation is outstanding and OnComplete has
// returned, or ctx is done.
func (w *Workflow) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		done := w.done
		if done == nil {
			done = w.notifying
		}
		w.mu.Unlock()

		if done == nil {
			return nil
		}

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close abandons any in-flight operation. The workflow must not be used
// afterwards.
func (w *Workflow) Close() {
	w.mu.Lock()
	w.gen++
	w.release()
	w.mu.Unlock()
	w.cancel()
}
