// Package layout renders the HTML document shell shared by portal pages.
package layout

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

const htmxScript = "https://unpkg.com/htmx.org@2.0.3/dist/htmx.min.js"

// htmxConfig lets htmx swap 4xx fragments so validation and auth failures render in place.
const htmxConfig = `{"responseHandling":[{"code":"204","swap":false},{"code":"[23]..","swap":true},{"code":"4..","swap":true,"error":false},{"code":"...","swap":true,"error":true}]}`

// Meta describes document-level settings for a page.
type Meta struct {
	Title       string
	Environment string
	// RefreshAfter, when positive, asks the browser to reload the page after that many seconds.
	RefreshAfter int
}

// Base wraps body in the document shell.
func Base(meta Meta, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := NewWriter(w)
		hw.Raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		hw.Raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		hw.Raw(`<meta name="htmx-config"`)
		hw.Attr("content", htmxConfig)
		hw.Raw(`>`)
		if meta.RefreshAfter > 0 {
			hw.Raw(`<meta http-equiv="refresh" content="`)
			hw.Int(meta.RefreshAfter)
			hw.Raw(`">`)
		}
		hw.Raw(`<title>`)
		hw.Text(pageTitle(meta.Title))
		hw.Raw(`</title><link rel="stylesheet" href="/public/static/css/app.css">`)
		hw.Raw(`<script src="` + htmxScript + `" defer></script></head><body class="portal">`)
		if badge := EnvironmentBadge(meta.Environment); badge != "" {
			hw.Raw(`<div class="env-badge" data-environment-badge><span aria-hidden="true">`)
			hw.Text(badge)
			hw.Raw(`</span><span class="sr-only">`)
			hw.Text(meta.Environment + " environment")
			hw.Raw(`</span></div>`)
		}
		hw.Raw(`<main class="portal-main">`)
		if hw.Err() != nil {
			return hw.Err()
		}
		if body != nil {
			if err := body.Render(ctx, w); err != nil {
				return err
			}
		}
		hw.Raw(`</main></body></html>`)
		return hw.Err()
	})
}

// EnvironmentBadge returns the short label displayed for non-production environments.
func EnvironmentBadge(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "production", "prod":
		return ""
	case "staging", "stg":
		return "STG"
	case "development", "dev":
		return "DEV"
	default:
		label := strings.ToUpper(strings.TrimSpace(env))
		if len(label) > 3 {
			label = label[:3]
		}
		return label
	}
}

func pageTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Tickerdesk"
	}
	return title + " | Tickerdesk"
}
