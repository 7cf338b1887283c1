// Package locator resolves the backend a request is addressed to.
//
// Requests either carry the backend origin in a leading bracketed path
// segment, /(https://screeps.com)/api/game/time, or, when a fixed backend is
// configured, are all addressed to that backend unchanged.
package locator

import (
	"net/url"
	"regexp"
	"strings"

	"screeps-proxy-go/internal/config"
	"screeps-proxy-go/internal/model"
)

var selectorPattern = regexp.MustCompile(`^/\(([^)]+)\)(/.*)$`)

// Locator maps raw request paths to backend selectors. It holds no per-request
// state and is safe for concurrent use.
type Locator struct {
	fixed string
}

// New creates a Locator. A non-empty fixed origin disables path-embedded
// selection; its trailing slashes are stripped once here.
func New(fixed string) *Locator {
	return &Locator{fixed: strings.TrimRight(fixed, "/")}
}

// NewFromConfig creates a Locator from the backend configuration.
func NewFromConfig(cfg *config.Config) *Locator {
	return New(cfg.Backend.Fixed)
}

// Fixed reports whether every request resolves to one configured backend.
func (l *Locator) Fixed() bool {
	return l.fixed != ""
}

// Locate extracts the backend selector from rawPath. The second result is
// false when path-embedded selection is active and rawPath does not carry a
// valid absolute origin.
func (l *Locator) Locate(rawPath string) (model.Selector, bool) {
	if l.fixed != "" {
		return model.Selector{Backend: l.fixed, Path: rawPath}, true
	}

	m := selectorPattern.FindStringSubmatch(rawPath)
	if m == nil {
		return model.Selector{}, false
	}
	backend := strings.TrimRight(m[1], "/")
	if !isOrigin(backend) {
		return model.Selector{}, false
	}
	return model.Selector{Backend: backend, Path: m[2]}, true
}

// Prefix returns the path prefix that routes back through this proxy to the
// given backend: "" in fixed mode, "/(<backend>)" otherwise.
func (l *Locator) Prefix(backend string) string {
	if l.fixed != "" {
		return ""
	}
	return "/(" + backend + ")"
}

func isOrigin(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
