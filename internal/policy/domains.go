package policy

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// domainProfile converts user-entered hosts to their ASCII form without
// rejecting labels that browsers still accept (underscores, long labels).
var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// ParseDomainList splits one domain per line, trimming and lowercasing each.
// Blank lines and lines starting with # are dropped.
func ParseDomainList(text string) []string {
	domains := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	return domains
}

// NormalizeDomain lowercases d, strips a trailing dot and a leading "*."
// wildcard, and converts internationalized names to punycode so they compare
// equal to the hostname a browser reports.
func NormalizeDomain(d string) (string, error) {
	d = strings.TrimSpace(d)
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "*.")
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}

	ascii, err := domainProfile.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", d, err)
	}
	return strings.ToLower(ascii), nil
}

// NormalizeDomains applies NormalizeDomain to every entry of a parsed list,
// dropping duplicates while keeping first-seen order.
func NormalizeDomains(domains []string) ([]string, error) {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		n, err := NormalizeDomain(d)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
