package signin

import "sync"

// Phase mirrors the lifecycle of the authentication status owned by the session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLoading   Phase = "loading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// ParsePhase converts a stored value to a Phase, defaulting to idle.
func ParsePhase(raw string) Phase {
	switch Phase(raw) {
	case PhaseLoading, PhaseSucceeded, PhaseFailed:
		return Phase(raw)
	default:
		return PhaseIdle
	}
}

// PhaseFor maps a terminal page state to the phase recorded in the session.
func PhaseFor(state State) Phase {
	switch state {
	case StateSucceeded:
		return PhaseSucceeded
	case StateFailed:
		return PhaseFailed
	case StateSubmitting:
		return PhaseLoading
	default:
		return PhaseIdle
	}
}

// Status is a read-only snapshot of the authentication status.
type Status struct {
	IsSignedIn bool
	Phase      Phase
}

// Decision tells the caller what to render.
type Decision struct {
	// ShowPlaceholder hides the form behind a loading placeholder.
	ShowPlaceholder bool
	// Redirect asks the caller to navigate away from the page.
	Redirect bool
}

// Guard gates the sign-in page on the externally computed authentication signal.
type Guard struct {
	nav     Navigator
	target  string
	mu      sync.Mutex
	lastSet bool
	last    bool
}

// NewGuard constructs a Guard that redirects to target through nav.
func NewGuard(nav Navigator, target string) *Guard {
	if target == "" {
		target = defaultLanding
	}
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	return &Guard{nav: nav, target: target}
}

// Decide reports whether the form should be hidden and whether to redirect. It has no
// side effects.
func Decide(isAuthenticated bool, status Status) Decision {
	return Decision{
		ShowPlaceholder: isAuthenticated || status.IsSignedIn || status.Phase == PhaseLoading,
		Redirect:        isAuthenticated,
	}
}

// Observe re-evaluates the guard for the current signal. The redirect is issued once
// each time the signal turns true; repeated observations of the same value do nothing.
func (g *Guard) Observe(isAuthenticated bool, status Status) Decision {
	d := Decide(isAuthenticated, status)

	g.mu.Lock()
	changed := !g.lastSet || g.last != isAuthenticated
	g.lastSet = true
	g.last = isAuthenticated
	g.mu.Unlock()

	if changed && d.Redirect {
		g.nav.Navigate(g.target)
	}
	return d
}
