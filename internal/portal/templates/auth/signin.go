// Package auth renders the sign-in screen and its loading placeholder.
package auth

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"finitefield.org/tickerdesk/internal/portal/templates/layout"
	"finitefield.org/tickerdesk/internal/portal/validation"
)

// PlaceholderRefreshSeconds is how often the loading placeholder polls for a settled result.
const PlaceholderRefreshSeconds = 2

// SignInPage renders the full sign-in document.
func SignInPage(data SignInPageData) templ.Component {
	return layout.Base(layout.Meta{Title: "Sign in", Environment: data.Environment}, SignInForm(data))
}

// SignInForm renders the swappable sign-in card. htmx submissions replace it in place.
func SignInForm(data SignInPageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := layout.NewWriter(w)
		action := data.signInPath()

		hw.Raw(`<section id="signin" class="auth-card" data-signin>`)
		hw.Raw(`<h1 class="auth-title">Sign in to Tickerdesk</h1>`)
		if data.Notice != "" {
			hw.Raw(`<p class="auth-notice" role="status" data-signin-notice>`)
			hw.Text(data.Notice)
			hw.Raw(`</p>`)
		}
		if data.Failure != "" {
			hw.Raw(`<div class="auth-failure" role="alert" data-signin-failure>`)
			hw.Text(data.Failure)
			hw.Raw(`</div>`)
		}

		hw.Raw(`<form id="signin-form" method="post" novalidate`)
		hw.Attr("action", action)
		hw.Attr("hx-post", action)
		hw.Attr("hx-target", "#signin")
		hw.Attr("hx-swap", "outerHTML")
		hw.Attr("hx-disabled-elt", "find button[type='submit']")
		hw.Raw(`>`)
		hw.Raw(`<input type="hidden" name="csrf_token"`)
		hw.Attr("value", data.CSRFToken)
		hw.Raw(`>`)
		if data.Next != "" {
			hw.Raw(`<input type="hidden" name="next"`)
			hw.Attr("value", data.Next)
			hw.Raw(`>`)
		}

		field(hw, data.Errors, fieldDef{
			name:         validation.FieldEmail,
			label:        "Email",
			inputType:    "email",
			autocomplete: "username",
			value:        data.Email,
		})
		field(hw, data.Errors, fieldDef{
			name:         validation.FieldPassword,
			label:        "Password",
			inputType:    "password",
			autocomplete: "current-password",
		})

		hw.Raw(`<button type="submit" class="auth-submit" data-signin-submit`)
		hw.BoolAttr("disabled", data.Submitting)
		hw.BoolAttr(`aria-busy="true"`, data.Submitting)
		hw.Raw(`>`)
		if data.Submitting {
			hw.Raw(`<span class="label-busy">Loading...</span>`)
		} else {
			hw.Raw(`<span class="label-idle">Sign in</span><span class="label-busy" aria-hidden="true">Loading...</span>`)
		}
		hw.Raw(`</button></form>`)

		hw.Raw(`<nav class="auth-links"><a data-link-forgot`)
		hw.Attr("href", data.forgotPath())
		hw.Raw(`>Forgot password?</a><a data-link-signup`)
		hw.Attr("href", data.signupPath())
		hw.Raw(`>Create an account</a></nav></section>`)
		return hw.Err()
	})
}

// LoadingPage renders the placeholder shown while a submission for this browser is still
// in flight. It reloads itself until the attempt settles.
func LoadingPage(data SignInPageData) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := layout.NewWriter(w)
		hw.Raw(`<section id="signin" class="auth-card auth-placeholder" aria-busy="true" data-signin-placeholder>`)
		hw.Raw(`<div class="spinner" aria-hidden="true"></div><p>Loading...</p></section>`)
		return hw.Err()
	})
	return layout.Base(layout.Meta{
		Title:        "Signing in",
		Environment:  data.Environment,
		RefreshAfter: PlaceholderRefreshSeconds,
	}, body)
}

type fieldDef struct {
	name         string
	label        string
	inputType    string
	autocomplete string
	value        string
}

func field(hw *layout.Writer, errs validation.Errors, def fieldDef) {
	id := "signin-" + def.name
	msg := errs.Get(def.name)

	hw.Raw(`<div class="auth-field"><label`)
	hw.Attr("for", id)
	hw.Raw(`>`)
	hw.Text(def.label)
	hw.Raw(`</label><input`)
	hw.Attr("id", id)
	hw.Attr("name", def.name)
	hw.Attr("type", def.inputType)
	hw.Attr("autocomplete", def.autocomplete)
	if def.value != "" {
		hw.Attr("value", def.value)
	}
	if msg != "" {
		hw.Attr("aria-invalid", "true")
		hw.Attr("aria-describedby", id+"-error")
	}
	hw.Raw(`>`)
	if msg != "" {
		hw.Raw(`<p class="field-error"`)
		hw.Attr("id", id+"-error")
		hw.Attr("data-field-error", def.name)
		hw.Raw(`>`)
		hw.Text(msg)
		hw.Raw(`</p>`)
	}
	hw.Raw(`</div>`)
}
