// Package egress confines the engine's outbound HTTP to a fixed set of
// provider hosts. Anything else is refused before a connection is dialed.
package egress

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"webweaver/engine/internal/llm"
)

// Policy is the outbound-connection rule set: HTTPS only, named hosts only,
// no IP literals.
type Policy struct {
	hosts map[string]struct{}
}

// NewPolicy builds a policy allowing exactly the given hosts.
func NewPolicy(hosts ...string) *Policy {
	p := &Policy{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		p.hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return p
}

// Check reports whether the URL may be dialed. Refusals wrap
// llm.ErrEgressBlocked and name the refused target.
func (p *Policy) Check(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: no url", llm.ErrEgressBlocked)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", llm.ErrEgressBlocked, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no host", llm.ErrEgressBlocked)
	}
	if net.ParseIP(host) != nil {
		return fmt.Errorf("%w: ip literal %s", llm.ErrEgressBlocked, host)
	}
	if _, ok := p.hosts[host]; !ok {
		return fmt.Errorf("%w: host %s", llm.ErrEgressBlocked, host)
	}
	return nil
}

// Transport wraps base with the policy. A nil base means
// http.DefaultTransport.
func (p *Policy) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &guardedTransport{policy: p, base: base}
}

type guardedTransport struct {
	policy *Policy
	base   http.RoundTripper
}

func (g *guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := g.policy.Check(req.URL); err != nil {
		return nil, err
	}
	return g.base.RoundTrip(req)
}
