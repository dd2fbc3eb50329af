package fetch

import (
	"sort"
	"strings"
)

// DefaultAllowedHosts is the conservative set of provider hosts used when no
// allowlist is configured.
var DefaultAllowedHosts = []string{
	"api.open-meteo.com",
	"geocoding-api.open-meteo.com",
	"restcountries.com",
	"api.opentripmap.com",
	"test.api.amadeus.com",
	"api.amadeus.com",
	"api.search.brave.com",
	"api.vectara.io",
}

// Allowlist is the set of hosts outbound requests may reach.
// Patterns of the form "*.example.com" match any subdomain of example.com.
type Allowlist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewAllowlist builds an allowlist from hosts. An empty list falls back to DefaultAllowedHosts.
func NewAllowlist(hosts []string) *Allowlist {
	hosts = normalizeHosts(hosts)
	if len(hosts) == 0 {
		hosts = DefaultAllowedHosts
	}

	a := &Allowlist{exact: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if strings.HasPrefix(h, "*.") {
			a.suffixes = append(a.suffixes, h[1:])
			continue
		}
		a.exact[h] = struct{}{}
	}
	return a
}

// ParseAllowlist splits a comma separated host list, as found in WAYFARER_FETCH_ALLOWLIST.
func ParseAllowlist(raw string) []string {
	return normalizeHosts(strings.Split(raw, ","))
}

// Allowed reports whether host may be contacted.
func (a *Allowlist) Allowed(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := a.exact[host]; ok {
		return true
	}
	for _, suffix := range a.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// Hosts returns the configured patterns in sorted order.
func (a *Allowlist) Hosts() []string {
	out := make([]string, 0, len(a.exact)+len(a.suffixes))
	for h := range a.exact {
		out = append(out, h)
	}
	for _, s := range a.suffixes {
		out = append(out, "*"+s)
	}
	sort.Strings(out)
	return out
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
