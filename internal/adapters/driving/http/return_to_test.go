package http

import "testing"

func TestIsLocalPath(t *testing.T) {
	tests := map[string]bool{
		"/":                   true,
		"/settings?tab=1":     true,
		"":                    false,
		"settings":            false,
		"//evil.example.com":  false,
		"https://example.com": false,
		"/\\evil":             false,
	}
	for in, want := range tests {
		if got := isLocalPath(in); got != want {
			t.Errorf("isLocalPath(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReturnToPolicy_Default(t *testing.T) {
	p := newReturnToPolicy(DefaultReturnToAllowed)
	tests := map[string]bool{
		"/done": true,
		"https://app.gohighlevel.com/custom-page-link/abc123":             true,
		"https://APP.gohighlevel.com/custom-page-link/abc123?x=1":         true,
		"https://app.gohighlevel.com/v2/location/abc":                     false,
		"https://app.gohighlevel.com/custom-page-link/../v2/location/abc": false,
		"http://app.gohighlevel.com/custom-page-link/abc123":              false,
		"https://app.gohighlevel.com:8443/custom-page-link/abc123":        false,
		"https://user@app.gohighlevel.com/custom-page-link/abc123":        false,
		"https://app.gohighlevel.com.evil.example/custom-page-link/x":     false,
		"https://evil.example.com/custom-page-link/abc123":                false,
		"//app.gohighlevel.com/custom-page-link/abc123":                   false,
	}
	for in, want := range tests {
		if got := p.allows(in); got != want {
			t.Errorf("allows(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReturnToPolicy_Entries(t *testing.T) {
	p := newReturnToPolicy([]string{"https://portal.example.org/apps/", ".example.net", " ", "/nohost"})
	if len(p.rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(p.rules))
	}
	tests := map[string]bool{
		"https://portal.example.org/apps/one": true,
		"https://portal.example.org/other":    false,
		"https://example.net/anything":        true,
		"https://a.b.example.net/":            true,
		"https://notexample.net/":             false,
	}
	for in, want := range tests {
		if got := p.allows(in); got != want {
			t.Errorf("allows(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReturnToPolicy_EmptyAllowsOnlyLocal(t *testing.T) {
	p := newReturnToPolicy(nil)
	if !p.allows("/settings") {
		t.Error("local path should be allowed")
	}
	if p.allows("https://app.gohighlevel.com/custom-page-link/abc123") {
		t.Error("absolute url should be rejected without rules")
	}
}
