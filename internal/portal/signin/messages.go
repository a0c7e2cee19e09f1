package signin

import "finitefield.org/tickerdesk/internal/portal/identity"

// Reasons produced by the sign-in flow in addition to identity reason codes.
const (
	ReasonTimeout    = "timeout"
	ReasonCanceled   = "canceled"
	ReasonInProgress = "in_progress"
	ReasonBadForm    = "bad_form"
)

// FailureMessage returns the banner shown above the form after a failed attempt.
func FailureMessage(reason string) string {
	switch reason {
	case identity.ReasonInvalidCredentials, identity.ReasonTokenInvalid, identity.ReasonMissingToken:
		return "The email address or password is incorrect."
	case identity.ReasonUserDisabled:
		return "This account has been disabled. Contact support to restore access."
	case identity.ReasonRateLimited:
		return "Too many sign-in attempts. Wait a moment and try again."
	case identity.ReasonTokenExpired:
		return "Your session has expired. Please sign in again."
	case ReasonTimeout:
		return "Signing in is taking longer than expected. Please try again."
	case ReasonCanceled:
		return "The sign-in request was interrupted. Please try again."
	case ReasonInProgress:
		return "A sign-in for this browser is already in progress."
	case ReasonBadForm:
		return "We could not read the form. Please try again."
	default:
		return "We could not sign you in right now. Please try again later."
	}
}

// NoticeForQuery maps the status/reason query parameters of the sign-in URL to an
// informational message.
func NoticeForQuery(status, reason string) string {
	if status == "signed_out" {
		return "You have been signed out."
	}
	switch reason {
	case identity.ReasonTokenExpired, "expired":
		return "Your session has expired. Please sign in again."
	case identity.ReasonMissingToken:
		return "Please sign in to continue."
	case identity.ReasonTokenInvalid:
		return "Your sign-in details are no longer valid. Please sign in again."
	default:
		return ""
	}
}
