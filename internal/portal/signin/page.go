// Package signin implements the sign-in page flow: it holds the credentials draft,
// validates it, dispatches the login command and reports where to navigate.
package signin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/validation"
)

const (
	defaultTimeout = 15 * time.Second
	defaultLanding = "/"
)

// ErrSubmitInProgress is returned when Submit is called while a previous submission is pending.
var ErrSubmitInProgress = errors.New("signin: submission in progress")

var tracer = otel.Tracer("finitefield.org/tickerdesk/internal/portal/signin")

// State is the position of the page in the submission flow.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Command performs the login against the authentication backend.
type Command interface {
	Login(ctx context.Context, creds identity.Credentials) (*identity.Outcome, error)
}

// CommandFunc adapts a function to Command.
type CommandFunc func(ctx context.Context, creds identity.Credentials) (*identity.Outcome, error)

// Login implements Command.
func (f CommandFunc) Login(ctx context.Context, creds identity.Credentials) (*identity.Outcome, error) {
	return f(ctx, creds)
}

// Navigator receives navigation requests issued by the page.
type Navigator interface {
	Navigate(target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(target string) { f(target) }

// Snapshot is a read-only view of the page used for rendering.
type Snapshot struct {
	State      State
	Email      string
	Errors     validation.Errors
	Submitting bool
	Failure    string
	Reason     string
	Outcome    *identity.Outcome
}

// Page is one sign-in form instance.
type Page struct {
	cmd     Command
	nav     Navigator
	logger  *zap.Logger
	timeout time.Duration
	landing string

	mu         sync.Mutex
	draft      identity.Credentials
	errors     validation.Errors
	submitting bool
	state      State
	failure    string
	reason     string
	outcome    *identity.Outcome
}

// Option customises a Page.
type Option func(*Page)

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Page) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTimeout bounds how long a single login dispatch may take.
func WithTimeout(d time.Duration) Option {
	return func(p *Page) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLanding sets the navigation target used after a successful sign-in.
func WithLanding(target string) Option {
	return func(p *Page) {
		if strings.TrimSpace(target) != "" {
			p.landing = target
		}
	}
}

// NewPage constructs a Page in the Idle state with an empty draft.
func NewPage(cmd Command, nav Navigator, opts ...Option) *Page {
	if cmd == nil {
		panic("signin: login command is required")
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	p := &Page{
		cmd:     cmd,
		nav:     nav,
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
		landing: defaultLanding,
		errors:  validation.Errors{},
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEmail replaces the email in the draft.
func (p *Page) SetEmail(v string) {
	p.mu.Lock()
	p.draft.Email = v
	p.mu.Unlock()
}

// SetPassword replaces the password in the draft.
func (p *Page) SetPassword(v string) {
	p.mu.Lock()
	p.draft.Password = v
	p.mu.Unlock()
}

// Snapshot returns the current render state. The password is never included.
func (p *Page) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	errs := make(validation.Errors, len(p.errors))
	for k, v := range p.errors {
		errs[k] = v
	}
	return Snapshot{
		State:      p.state,
		Email:      p.draft.Email,
		Errors:     errs,
		Submitting: p.submitting,
		Failure:    p.failure,
		Reason:     p.reason,
		Outcome:    p.outcome,
	}
}

// Submit validates the draft and, when valid, dispatches the login command. It blocks
// until the command settles or the timeout budget derived from ctx runs out. The
// returned State is Idle after a validation failure, otherwise Succeeded or Failed.
func (p *Page) Submit(ctx context.Context) (State, error) {
	p.mu.Lock()
	if p.submitting {
		p.mu.Unlock()
		return StateSubmitting, ErrSubmitInProgress
	}
	p.state = StateValidating
	creds := p.draft
	p.mu.Unlock()

	res := validation.Validate(validation.Fields{Email: creds.Email, Password: creds.Password}, validation.ModeLogin)

	p.mu.Lock()
	if !res.Valid {
		p.errors = res.Errors
		p.failure = ""
		p.reason = ""
		p.state = StateIdle
		p.mu.Unlock()
		return StateIdle, nil
	}
	p.errors = validation.Errors{}
	p.failure = ""
	p.reason = ""
	p.outcome = nil
	p.submitting = true
	p.state = StateSubmitting
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.submitting = false
		p.mu.Unlock()
	}()

	creds.Email = strings.TrimSpace(creds.Email)

	ctx, span := tracer.Start(ctx, "signin.submit")
	defer span.End()

	outcome, err := p.dispatch(ctx, creds)
	if err == nil && outcome != nil && outcome.SignedIn {
		p.mu.Lock()
		p.state = StateSucceeded
		p.outcome = outcome
		p.mu.Unlock()
		span.SetAttributes(attribute.String("signin.result", "succeeded"))
		span.SetStatus(codes.Ok, "")
		p.nav.Navigate(p.landing)
		return StateSucceeded, nil
	}

	if err == nil {
		err = identity.NewAuthError(identity.ReasonInvalidCredentials, identity.ErrUnauthorized)
	}
	reason := reasonFor(err)
	p.logger.Warn("sign-in failed",
		zap.String("reason", reason),
		zap.String("email", maskEmail(creds.Email)),
		zap.Error(err),
	)
	span.SetAttributes(attribute.String("signin.result", "failed"), attribute.String("signin.reason", reason))
	span.SetStatus(codes.Error, reason)

	p.mu.Lock()
	p.state = StateFailed
	p.reason = reason
	p.failure = FailureMessage(reason)
	p.mu.Unlock()
	return StateFailed, nil
}

// dispatch runs the command under the timeout budget and converts panics into errors.
func (p *Page) dispatch(ctx context.Context, creds identity.Credentials) (outcome *identity.Outcome, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		outcome *identity.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				r = result{err: fmt.Errorf("login command panicked: %v", rec)}
			}
			done <- r
		}()
		r.outcome, r.err = p.cmd.Login(ctx, creds)
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			// Settled after the deadline; the result is not trusted.
			return nil, ctx.Err()
		}
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return identity.ReasonOf(err)
	}
}

// maskEmail keeps the domain and the first character of the local part for diagnostics.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
