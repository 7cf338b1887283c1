// Package model defines shared types for the proxy.
package model

import (
	"io"
	"strings"
	"time"
)

// Selector is the backend selection derived from a single request path.
// Backend is an absolute origin without trailing slashes; Path always starts
// with "/".
type Selector struct {
	Backend string
	Path    string
}

// Asset is an archive-served response ready to be written to the client.
// When NotModified is set, Body is nil and no content transform was run.
type Asset struct {
	Name         string
	ContentType  string
	CacheControl string
	LastModified time.Time
	NotModified  bool

	// Body is the response payload. Size is -1 when unknown.
	Body io.ReadCloser
	Size int64
}

// VersionInfo is the subset of a backend's /api/version document the proxy
// inspects.
type VersionInfo struct {
	Protocol      int        `json:"protocol"`
	UseNativeAuth bool       `json:"useNativeAuth"`
	ServerData    ServerData `json:"serverData"`
}

// ServerData describes optional server capabilities.
type ServerData struct {
	Features []Feature `json:"features"`
}

// Feature is a named server capability flag.
type Feature struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// HasFeature reports whether the version document lists the named feature,
// compared case-insensitively. A nil receiver has no features.
func (v *VersionInfo) HasFeature(name string) bool {
	if v == nil {
		return false
	}
	for _, f := range v.ServerData.Features {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// UpgradeOutcome is the terminal state of a WebSocket upgrade attempt.
type UpgradeOutcome string

const (
	UpgradeRejected  UpgradeOutcome = "rejected"
	UpgradeForwarded UpgradeOutcome = "forwarded"
	UpgradeFailed    UpgradeOutcome = "failed"
)
