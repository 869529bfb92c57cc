// Package policy implements domain-scoped link policy and the file:// to
// directory:// rewrite.
package policy

import (
	"regexp"
	"strings"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

const (
	// SourceScheme is the scheme the page sandbox refuses to navigate to.
	SourceScheme = "file://"

	// TargetScheme is the scheme registered with the OS handler.
	TargetScheme = "directory://"

	// FileLinkSelector matches every anchor pointing at the source scheme.
	FileLinkSelector = `a[href^="file://"]`
)

// driveLetterRe matches a single-letter segment right after the scheme that
// lost its colon, as in directory://C/Users or directory:///C/Users.
var driveLetterRe = regexp.MustCompile(`^directory:///?([A-Za-z])/`)

// MatchesDomain reports whether hostname equals domain or is a subdomain of it.
// The comparison is case-sensitive; callers normalize if they need to.
func MatchesDomain(hostname, domain string) bool {
	return hostname == domain || strings.HasSuffix(hostname, "."+domain)
}

// IsDomainAllowed evaluates the block-list first, then the allow-list.
// An empty allow-list allows every host that is not blocked.
func IsDomainAllowed(hostname string, settings domain.Settings) bool {
	for _, d := range settings.BlockedDomains {
		if MatchesDomain(hostname, d) {
			return false
		}
	}

	if len(settings.AllowedDomains) == 0 {
		return true
	}

	for _, d := range settings.AllowedDomains {
		if MatchesDomain(hostname, d) {
			return true
		}
	}
	return false
}

// RewriteURL swaps the file:// prefix for directory:// and repairs a drive
// letter whose colon was dropped. It returns false for any other scheme.
func RewriteURL(url string) (string, bool) {
	if !strings.HasPrefix(url, SourceScheme) {
		return "", false
	}

	rewritten := TargetScheme + strings.TrimPrefix(url, SourceScheme)
	rewritten = driveLetterRe.ReplaceAllString(rewritten, "directory:///${1}:/")

	return rewritten, true
}

// IsFileLink reports whether el itself matches FileLinkSelector.
func IsFileLink(el domain.Element) bool {
	return el != nil && el.Matches(FileLinkSelector)
}
