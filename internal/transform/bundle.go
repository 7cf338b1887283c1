package transform

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// BundleName is the archive entry that carries the server options payload.
const BundleName = "build.min.js"

// CanonicalHost is the hostname of the hosted game.
const CanonicalHost = "screeps.com"

const officialCDN = "https://d3os7yery2usni.cloudfront.net"

var (
	optionsPattern     = regexp.MustCompile(`\boptions=\{`)
	roomHistoryPattern = regexp.MustCompile(`http://"\+[\w$]+\.options\.host\+":"\+[\w$]+\.options\.port\+"/room-history`)
)

// BundleOptions parameterises PatchBundle for one backend.
type BundleOptions struct {
	// Backend is the selected backend origin.
	Backend string
	// Official marks the backend as behaving like the hosted game.
	Official bool
	// HistoryURL replaces the room-history URL template, e.g.
	// "http://localhost:8080/(https://example.com)/room-history".
	HistoryURL string
}

// BundleStats reports what PatchBundle changed.
type BundleStats struct {
	Patched int
	Skipped int
}

// PatchBundle injects host, port and official into the inline server options
// object and, for backends other than the hosted game, points the room-history
// and CDN URLs back at the proxy. Candidates that do not parse as object
// literals are left untouched.
func PatchBundle(text string, opts BundleOptions) (string, BundleStats, error) {
	var stats BundleStats

	u, err := url.Parse(opts.Backend)
	if err != nil {
		return text, stats, fmt.Errorf("parse backend %q: %w", opts.Backend, err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	fields := fmt.Sprintf("host:%s,port:%s,official:%s",
		strconv.Quote(u.Hostname()), port, strconv.FormatBool(opts.Official))

	matches := optionsPattern.FindAllStringIndex(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		open := matches[i][1] - 1
		end, err := ParseObjectLiteral(text, open)
		if err != nil {
			stats.Skipped++
			continue
		}
		if !strings.Contains(text[open:end], "apiUrl") {
			continue
		}
		text = text[:end] + separator(text[open:end]) + fields + text[end:]
		stats.Patched++
	}

	if u.Hostname() != CanonicalHost {
		if opts.HistoryURL != "" {
			text = roomHistoryPattern.ReplaceAllLiteralString(text, opts.HistoryURL)
		}
		text = strings.ReplaceAll(text, officialCDN, opts.Backend+"/assets")
	}
	return text, stats, nil
}

// separator returns the text needed before appending a property to the
// object literal body, which is everything up to but excluding its closing
// brace.
func separator(body string) string {
	trimmed := strings.TrimRight(body, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, "{") {
		return ""
	}
	return ","
}
