package httpserver

import (
	"net/url"
	"path"
	"strings"
)

// redirectTarget returns the sanitised next target or the landing page.
func redirectTarget(raw string) string {
	if next := normalizeNext(raw); next != "" {
		return next
	}
	return landingPath
}

// normalizeNext sanitises a post sign-in target and refuses loops back to the sign-in
// or logout pages.
func normalizeNext(raw string) string {
	sanitized := sanitizeNextTarget(raw)
	if sanitized == "" {
		return ""
	}
	p := pathOnly(sanitized)
	if samePath(p, signInPath) || samePath(p, logoutPath) {
		return ""
	}
	return sanitized
}

// sanitizeNextTarget only accepts same-origin absolute paths.
func sanitizeNextTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" || parsed.Host != "" || parsed.User != nil {
		return ""
	}
	if !strings.HasPrefix(parsed.Path, "/") {
		return ""
	}

	unescaped, err := url.PathUnescape(parsed.Path)
	if err != nil {
		return ""
	}
	if strings.Contains(unescaped, "\\") {
		return ""
	}

	cleaned := path.Clean(unescaped)
	if strings.HasPrefix(cleaned, "//") {
		return ""
	}

	target := cleaned
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	if parsed.Fragment != "" {
		target += "#" + parsed.Fragment
	}
	return target
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	trim := func(p string) string {
		for len(p) > 1 && strings.HasSuffix(p, "/") {
			p = strings.TrimSuffix(p, "/")
		}
		return p
	}
	return trim(a) == trim(b)
}

func pathOnly(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Path
}
