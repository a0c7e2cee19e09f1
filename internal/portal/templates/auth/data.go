package auth

import "finitefield.org/tickerdesk/internal/portal/validation"

// SignInPageData encapsulates rendering state for the sign-in screen.
type SignInPageData struct {
	Email       string
	Errors      validation.Errors
	Failure     string
	Notice      string
	Next        string
	CSRFToken   string
	Environment string
	Submitting  bool

	SignInPath string
	ForgotPath string
	SignupPath string
}

func (d SignInPageData) signInPath() string {
	if d.SignInPath == "" {
		return "/signin"
	}
	return d.SignInPath
}

func (d SignInPageData) forgotPath() string {
	if d.ForgotPath == "" {
		return "/forgot"
	}
	return d.ForgotPath
}

func (d SignInPageData) signupPath() string {
	if d.SignupPath == "" {
		return "/signup"
	}
	return d.SignupPath
}
