// Package home renders the landing page shown after sign-in.
package home

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"

	"finitefield.org/tickerdesk/internal/portal/templates/layout"
)

// PageData carries the signed-in trader for the landing page.
type PageData struct {
	DisplayName string
	Email       string
	CSRFToken   string
	Environment string
	LogoutPath  string
}

func (d PageData) greetingName() string {
	if name := strings.TrimSpace(d.DisplayName); name != "" {
		return name
	}
	if d.Email != "" {
		return d.Email
	}
	return "trader"
}

// Page renders the landing document.
func Page(data PageData) templ.Component {
	logout := data.LogoutPath
	if logout == "" {
		logout = "/logout"
	}
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := layout.NewWriter(w)
		hw.Raw(`<section class="home" data-home><h1>Welcome back, <span data-user-name>`)
		hw.Text(data.greetingName())
		hw.Raw(`</span></h1>`)
		if data.Email != "" {
			hw.Raw(`<p class="home-email" data-user-email>`)
			hw.Text(data.Email)
			hw.Raw(`</p>`)
		}
		hw.Raw(`<form method="post" data-logout`)
		hw.Attr("action", logout)
		hw.Raw(`><input type="hidden" name="csrf_token"`)
		hw.Attr("value", data.CSRFToken)
		hw.Raw(`><button type="submit">Sign out</button></form></section>`)
		return hw.Err()
	})
	return layout.Base(layout.Meta{Title: "Home", Environment: data.Environment}, body)
}
