// Package policy decides which hosts a browser session may navigate to.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Violation is returned when a navigation target is rejected.
type Violation struct {
	URL    string
	Host   string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("navigation to %s blocked: %s", v.URL, v.Reason)
}

// HostMatcher matches URL hosts against glob patterns. Patterns use '.' as the
// separator, so "*.example.com" matches one label and "**.example.com" any depth.
type HostMatcher struct {
	allowed []glob.Glob
	denied  []glob.Glob
}

// NewHostMatcher compiles the allow and deny lists.
func NewHostMatcher(allowed, denied []string) (*HostMatcher, error) {
	hm := &HostMatcher{}

	for _, pattern := range allowed {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed host pattern '%s': %w", pattern, err)
		}
		hm.allowed = append(hm.allowed, g)
	}

	for _, pattern := range denied {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid denied host pattern '%s': %w", pattern, err)
		}
		hm.denied = append(hm.denied, g)
	}

	return hm, nil
}

// Enabled reports whether any pattern is configured.
func (hm *HostMatcher) Enabled() bool {
	return hm != nil && (len(hm.allowed) > 0 || len(hm.denied) > 0)
}

// IsAllowed reports whether host passes the rules. Denied patterns win; with no allowed
// patterns every host not denied passes.
func (hm *HostMatcher) IsAllowed(host string) bool {
	if !hm.Enabled() {
		return true
	}
	host = strings.ToLower(host)

	for _, pattern := range hm.denied {
		if pattern.Match(host) {
			return false
		}
	}

	if len(hm.allowed) == 0 {
		return true
	}

	for _, pattern := range hm.allowed {
		if pattern.Match(host) {
			return true
		}
	}

	return false
}

// CheckURL returns a *Violation if rawURL may not be visited.
func (hm *HostMatcher) CheckURL(rawURL string) error {
	if !hm.Enabled() {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &Violation{URL: rawURL, Reason: "unparseable url"}
	}
	host := u.Hostname()
	if host == "" {
		// about:blank, data: and friends have no host to match
		if len(hm.allowed) > 0 {
			return &Violation{URL: rawURL, Reason: "url has no host"}
		}
		return nil
	}

	if !hm.IsAllowed(host) {
		return &Violation{URL: rawURL, Host: host, Reason: fmt.Sprintf("host %s is not allowed", host)}
	}
	return nil
}
