package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/locator"
)

// ErrAuthenticationFailed is returned when the session is still not
// authenticated after the operator signalled to continue.
var ErrAuthenticationFailed = errors.New("session: authentication failed after human intervention")

const defaultPollInterval = 500 * time.Millisecond

// Operator is the human channel used on escalation.
type Operator interface {
	AwaitContinue(ctx context.Context, prompt string) error
}

// Snapshotter persists a diagnostic capture of the page and returns where it
// was written.
type Snapshotter interface {
	Capture(ctx context.Context, label string) (string, error)
}

// Manager drives the login state machine against one page.
type Manager struct {
	resolver  *locator.Resolver
	chains    Chains
	cfg       config.SessionConfig
	operator  Operator
	snapshots Snapshotter
	logger    *zap.Logger
	interval  time.Duration
	now       func() time.Time

	session Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval sets how often the indicator is probed after submit.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSnapshotter sets where escalation snapshots are written.
func WithSnapshotter(s Snapshotter) Option {
	return func(m *Manager) { m.snapshots = s }
}

// NewManager creates a session manager in the Unauthenticated state.
func NewManager(resolver *locator.Resolver, chains Chains, cfg config.SessionConfig, op Operator, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		resolver: resolver,
		chains:   chains,
		cfg:      cfg,
		operator: op,
		logger:   logger.Named("session"),
		interval: defaultPollInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a copy of the current session state.
func (m *Manager) Session() Session {
	s := m.session
	s.History = append([]Transition(nil), m.session.History...)
	return s
}

// Ensure brings the session to Authenticated, escalating to the operator
// when automation cannot finish the login on its own.
func (m *Manager) Ensure(ctx context.Context) (Session, error) {
	if m.cfg.LoginURL != "" {
		if err := m.resolver.Page().Navigate(ctx, m.cfg.LoginURL); err != nil {
			return m.fail(fmt.Errorf("session: failed to open login page: %w", err))
		}
	}

	ok, err := m.IsAuthenticated(ctx)
	if err != nil {
		return m.Session(), err
	}
	if ok {
		m.transition(Authenticated, "existing session is live")
		return m.Session(), nil
	}

	if m.cfg.Mode == config.SessionModeManual {
		m.transition(ChallengePending, "manual login mode")
		return m.escalate(ctx, "Log in manually in the browser window.")
	}

	if err := m.submitCredentials(ctx); err != nil {
		return m.fail(err)
	}
	m.transition(CredentialsSubmitted, "credentials submitted")

	authenticated, challenged, err := m.waitForLogin(ctx)
	if err != nil {
		return m.Session(), err
	}
	if authenticated {
		m.transition(Authenticated, "authenticated indicator appeared")
		return m.Session(), nil
	}

	reason := "authenticated indicator did not appear"
	if challenged {
		reason = "challenge detected"
	}
	m.transition(ChallengePending, reason)
	return m.escalate(ctx, "Complete the verification in the browser window.")
}

// IsAuthenticated re-probes the authenticated indicator. Liveness is never
// cached.
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	match, err := m.resolver.Probe(ctx, m.chains.Indicator, locator.Document)
	if err != nil {
		return false, fmt.Errorf("session: %w", err)
	}
	return match.Found, nil
}

func (m *Manager) submitCredentials(ctx context.Context) error {
	page := m.resolver.Page()

	if !m.chains.ModeToggle.Empty() {
		toggle, err := m.resolver.Resolve(ctx, m.chains.ModeToggle, locator.Document)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		if toggle.Found {
			m.logger.Debug("Switching login mode.", zap.Stringer("strategy", toggle.Strategy))
			if err := page.Click(ctx, toggle.Element); err != nil {
				return fmt.Errorf("session: failed to switch login mode: %w", err)
			}
		}
	}

	fields := []struct {
		chain locator.Chain
		value string
	}{
		{m.chains.Username, m.cfg.Username},
		{m.chains.Password, m.cfg.Password},
	}
	for _, f := range fields {
		el, err := m.resolver.Require(ctx, f.chain, locator.Document)
		if err != nil {
			return fmt.Errorf("session: %w", err)
		}
		if err := page.Click(ctx, el); err != nil {
			return fmt.Errorf("session: failed to focus %s: %w", f.chain.Name, err)
		}
		if err := page.Type(ctx, el, f.value); err != nil {
			return fmt.Errorf("session: failed to fill %s: %w", f.chain.Name, err)
		}
	}

	submit, err := m.resolver.Require(ctx, m.chains.Submit, locator.Document)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := page.Click(ctx, submit); err != nil {
		return fmt.Errorf("session: failed to submit credentials: %w", err)
	}
	return nil
}

// waitForLogin polls the indicator for the submit window. It returns early
// when a challenge marker shows up.
func (m *Manager) waitForLogin(ctx context.Context) (authenticated, challenged bool, err error) {
	deadline := m.now().Add(m.cfg.SubmitWait)
	for {
		ok, err := m.IsAuthenticated(ctx)
		if err != nil || ok {
			return ok, false, err
		}
		if !m.chains.Challenge.Empty() {
			match, err := m.resolver.Probe(ctx, m.chains.Challenge, locator.Document)
			if err != nil {
				return false, false, fmt.Errorf("session: %w", err)
			}
			if match.Found {
				return false, true, nil
			}
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			return false, false, nil
		}
		timer := time.NewTimer(min(m.interval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *Manager) escalate(ctx context.Context, prompt string) (Session, error) {
	if m.snapshots != nil {
		path, err := m.snapshots.Capture(ctx, "login-verification")
		if err != nil {
			m.logger.Warn("Failed to capture escalation snapshot.", zap.Error(err))
		} else {
			m.session.Snapshot = path
			prompt = fmt.Sprintf("%s\nSnapshot saved to %s", prompt, path)
		}
	}

	m.session.Escalated = true
	m.transition(EscalatedToHuman, "awaiting operator")
	m.logger.Warn("Human intervention required.", zap.String("prompt", prompt))

	if err := m.operator.AwaitContinue(ctx, prompt); err != nil {
		return m.fail(fmt.Errorf("session: waiting for operator: %w", err))
	}

	// One resolution pass after the continue-signal, allowing each strategy
	// its usual timeout for the page to settle.
	match, err := m.resolver.Resolve(ctx, m.chains.Indicator, locator.Document)
	if err != nil {
		return m.fail(fmt.Errorf("session: %w", err))
	}
	if !match.Found {
		return m.fail(ErrAuthenticationFailed)
	}
	m.transition(Authenticated, "authenticated after operator intervention")
	return m.Session(), nil
}

func (m *Manager) fail(err error) (Session, error) {
	m.transition(Failed, err.Error())
	return m.Session(), err
}

func (m *Manager) transition(to State, reason string) {
	from := m.session.State
	m.session.State = to
	m.session.Authenticated = to == Authenticated
	m.session.History = append(m.session.History, Transition{From: from, To: to, Reason: reason, At: m.now()})
	m.logger.Info("Session state changed.",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("reason", reason))
}
