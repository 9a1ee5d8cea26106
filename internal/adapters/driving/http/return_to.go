package http

import (
	"net/url"
	"strings"
)

// DefaultReturnToAllowed lets the provider's custom page links through.
var DefaultReturnToAllowed = []string{"app.gohighlevel.com/custom-page-link/"}

// returnToRule matches absolute https targets by host and path prefix.
// A host starting with "." matches the domain and its subdomains.
type returnToRule struct {
	host       string
	suffix     bool
	pathPrefix string
}

// returnToPolicy decides where the browser may be sent after an install.
// Same-origin paths are always allowed.
type returnToPolicy struct {
	rules []returnToRule
}

// newReturnToPolicy parses entries of the form "host/path/prefix".
// An optional "https://" is ignored; blank entries are skipped.
func newReturnToPolicy(entries []string) returnToPolicy {
	var p returnToPolicy
	for _, e := range entries {
		e = strings.TrimPrefix(strings.TrimSpace(e), "https://")
		if e == "" {
			continue
		}
		host, prefix, _ := strings.Cut(e, "/")
		rule := returnToRule{
			host:       strings.ToLower(host),
			pathPrefix: "/" + prefix,
		}
		if strings.HasPrefix(rule.host, ".") {
			rule.suffix = true
			rule.host = strings.TrimPrefix(rule.host, ".")
		}
		if rule.host == "" {
			continue
		}
		p.rules = append(p.rules, rule)
	}
	return p
}

// allows reports whether target is a local path or an allow-listed https URL.
func (p returnToPolicy) allows(target string) bool {
	if isLocalPath(target) {
		return true
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || u.User != nil || u.Port() != "" {
		return false
	}
	if strings.Contains(u.Path, "..") || strings.Contains(u.Path, "\\") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, r := range p.rules {
		if !r.matchHost(host) {
			continue
		}
		if strings.HasPrefix(u.Path, r.pathPrefix) {
			return true
		}
	}
	return false
}

func (r returnToRule) matchHost(host string) bool {
	if host == r.host {
		return true
	}
	return r.suffix && strings.HasSuffix(host, "."+r.host)
}

// isLocalPath accepts same-origin paths only.
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}
