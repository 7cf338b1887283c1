// Package transform rewrites client assets so they talk to the proxy instead
// of the hosted game.
package transform

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// TitleTag is the marker the bootstrap script is inserted in front of.
const TitleTag = "<title>Screeps</title>"

//go:embed bootstrap.js.tmpl
var bootstrapSource string

var bootstrapTmpl = template.Must(template.New("bootstrap").Parse(bootstrapSource))

type bootstrapData struct {
	Backend           string
	TokenWindowMillis int
	CodeLimitBytes    int
}

// trackerStubs maps inline script markers to their inert replacements.
var trackerStubs = []struct {
	pattern *regexp.Regexp
	stub    string
}{
	{inlineScript("xsolla"), proxyStub("xnt")},
	{inlineScript("facebook"), proxyStub("fbq")},
	{inlineScript("google"), proxyStub("ga")},
	{inlineScript("mxpnl"), proxyStub("mixpanel")},
	{inlineScript("twttr"), proxyStub("twttr")},
	{inlineScript("onRecaptchaLoad"), "<script>function onRecaptchaLoad(){}</script>"},
}

func inlineScript(marker string) *regexp.Regexp {
	return regexp.MustCompile(`<script[^>]*>[^>]*` + regexp.QuoteMeta(marker) + `[^>]*</script>`)
}

func proxyStub(name string) string {
	return fmt.Sprintf("<script>%[1]s = new Proxy(() => %[1]s, { get: () => %[1]s })</script>", name)
}

// BootstrapScript renders the localStorage bootstrap for the given backend.
func BootstrapScript(backend string) (string, error) {
	quoted, err := json.Marshal(backend)
	if err != nil {
		return "", fmt.Errorf("encode backend: %w", err)
	}

	var sb strings.Builder
	err = bootstrapTmpl.Execute(&sb, bootstrapData{
		Backend:           string(quoted),
		TokenWindowMillis: 2 * 60 * 1000,
		CodeLimitBytes:    1024 * 1024,
	})
	if err != nil {
		return "", fmt.Errorf("render bootstrap: %w", err)
	}
	return sb.String(), nil
}

// IndexHTML injects the bootstrap script before the first title tag and
// replaces third-party tracking scripts with inert stubs. The result depends
// only on body and backend.
func IndexHTML(body, backend string) (string, error) {
	script, err := BootstrapScript(backend)
	if err != nil {
		return "", err
	}

	body = strings.Replace(body, TitleTag, script+TitleTag, 1)
	for _, t := range trackerStubs {
		body = t.pattern.ReplaceAllLiteralString(body, t.stub)
	}
	return body, nil
}
