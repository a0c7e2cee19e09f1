package signin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/tickerdesk/internal/portal/identity"
	"finitefield.org/tickerdesk/internal/portal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingCommand struct {
	mu      sync.Mutex
	calls   []identity.Credentials
	outcome *identity.Outcome
	err     error
}

func (c *recordingCommand) Login(_ context.Context, creds identity.Credentials) (*identity.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, creds)
	return c.outcome, c.err
}

type countingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *countingNavigator) Navigate(target string) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	n.mu.Unlock()
}

func TestSubmitInvalidEmailDoesNotDispatch(t *testing.T) {
	cmd := &recordingCommand{}
	nav := &countingNavigator{}
	page := NewPage(cmd, nav)
	page.SetEmail("")
	page.SetPassword("x")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, state)

	snap := page.Snapshot()
	require.Equal(t, "Please enter your email address.", snap.Errors.Get(validation.FieldEmail))
	require.False(t, snap.Submitting)
	require.Empty(t, snap.Failure)
	require.Empty(t, cmd.calls)
	require.Empty(t, nav.targets)
}

func TestSubmitSurfacesPasswordError(t *testing.T) {
	cmd := &recordingCommand{}
	page := NewPage(cmd, nil)
	page.SetEmail("a@b.com")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, state)
	require.True(t, page.Snapshot().Errors.Has(validation.FieldPassword))
	require.Empty(t, cmd.calls)
}

func TestSubmitSuccessNavigatesOnce(t *testing.T) {
	cmd := &recordingCommand{outcome: &identity.Outcome{SignedIn: true, User: &identity.User{UID: "u-1"}}}
	nav := &countingNavigator{}
	page := NewPage(cmd, nav)
	page.SetEmail("a@b.com")
	page.SetPassword("secret")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, state)

	require.Equal(t, []identity.Credentials{{Email: "a@b.com", Password: "secret"}}, cmd.calls)
	require.Equal(t, []string{"/"}, nav.targets)

	snap := page.Snapshot()
	require.False(t, snap.Submitting)
	require.Equal(t, "u-1", snap.Outcome.User.UID)
	require.Empty(t, snap.Errors)
}

func TestSubmitClearsPreviousErrors(t *testing.T) {
	cmd := &recordingCommand{outcome: &identity.Outcome{SignedIn: true}}
	page := NewPage(cmd, nil, WithLanding("/markets"))
	page.SetEmail("bad")
	page.SetPassword("secret")
	_, _ = page.Submit(context.Background())
	require.NotEmpty(t, page.Snapshot().Errors)

	nav := &countingNavigator{}
	page.nav = nav
	page.SetEmail("a@b.com")
	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, state)
	require.Empty(t, page.Snapshot().Errors)
	require.Equal(t, []string{"/markets"}, nav.targets)
}

func TestSubmitWithoutSignedInFlagFails(t *testing.T) {
	cmd := &recordingCommand{outcome: &identity.Outcome{SignedIn: false}}
	nav := &countingNavigator{}
	page := NewPage(cmd, nav)
	page.SetEmail("a@b.com")
	page.SetPassword("secret")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)

	snap := page.Snapshot()
	require.False(t, snap.Submitting)
	require.Equal(t, identity.ReasonInvalidCredentials, snap.Reason)
	require.Equal(t, "The email address or password is incorrect.", snap.Failure)
	require.Empty(t, nav.targets)
}

func TestSubmitRejectedCommandLogsAndClearsFlag(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cmd := &recordingCommand{err: errors.New("network unreachable")}
	nav := &countingNavigator{}
	page := NewPage(cmd, nav, WithLogger(zap.New(core)))
	page.SetEmail("trader@example.com")
	page.SetPassword("secret")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.False(t, page.Snapshot().Submitting)
	require.Empty(t, nav.targets)

	entries := logs.FilterMessage("sign-in failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, identity.ReasonUnavailable, fields["reason"])
	require.Equal(t, "t***@example.com", fields["email"])
	for _, v := range fields {
		require.NotEqual(t, "secret", v, "password must never be logged")
	}
}

func TestSubmitRecoversFromPanickingCommand(t *testing.T) {
	cmd := CommandFunc(func(context.Context, identity.Credentials) (*identity.Outcome, error) {
		panic("malformed response")
	})
	page := NewPage(cmd, nil)
	page.SetEmail("a@b.com")
	page.SetPassword("secret")

	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.False(t, page.Snapshot().Submitting)
}

func TestSubmitTimesOutSlowBackend(t *testing.T) {
	cmd := CommandFunc(func(ctx context.Context, _ identity.Credentials) (*identity.Outcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	nav := &countingNavigator{}
	page := NewPage(cmd, nav, WithTimeout(20*time.Millisecond))
	page.SetEmail("a@b.com")
	page.SetPassword("secret")

	start := time.Now()
	state, err := page.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, state)
	require.Less(t, time.Since(start), 5*time.Second)

	snap := page.Snapshot()
	require.False(t, snap.Submitting)
	require.Equal(t, ReasonTimeout, snap.Reason)
	require.Empty(t, nav.targets)
}

func TestSubmitRejectsConcurrentDuplicate(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	cmd := CommandFunc(func(ctx context.Context, _ identity.Credentials) (*identity.Outcome, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &identity.Outcome{SignedIn: true}, nil
	})
	nav := &countingNavigator{}
	page := NewPage(cmd, nav)
	page.SetEmail("a@b.com")
	page.SetPassword("secret")

	done := make(chan State, 1)
	go func() {
		state, _ := page.Submit(context.Background())
		done <- state
	}()
	<-started

	require.True(t, page.Snapshot().Submitting)
	state, err := page.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmitInProgress)
	require.Equal(t, StateSubmitting, state)

	close(release)
	require.Equal(t, StateSucceeded, <-done)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []string{"/"}, nav.targets)
	require.False(t, page.Snapshot().Submitting)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "submitting", StateSubmitting.String())
	require.Equal(t, "state(42)", State(42).String())
}
