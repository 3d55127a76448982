// Package scope decides which URLs a scan is permitted to visit.
package scope

import (
	"fmt"
	"net/url"
	"strings"

	tld "github.com/jpillora/go-tld"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Scope is the in-scope predicate for one scan, rooted at the seed URL's
// registrable domain.
type Scope struct {
	root              string
	excludePatterns   []string
	includePatterns   []string
	relevantKeywords  []string
	ignoredExtensions []string
}

// NewScope builds a Scope from the seed URL, taking pattern lists from
// configuration.
func NewScope(seedURL string) (*Scope, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("seed URL has no host: %s", seedURL)
	}
	return &Scope{
		root:              seedRoot(seedURL, parsed.Hostname()),
		excludePatterns:   viper.GetStringSlice("scope.exclude_patterns"),
		includePatterns:   viper.GetStringSlice("scope.include_patterns"),
		relevantKeywords:  viper.GetStringSlice("scope.relevant_keywords"),
		ignoredExtensions: viper.GetStringSlice("scope.ignored_extensions"),
	}, nil
}

// seedRoot computes the scope root for a seed host: the registrable domain
// when it can be derived, otherwise the last two DNS labels (or the whole
// host when it has two or fewer).
func seedRoot(seedURL, hostname string) string {
	if parsed, err := tld.Parse(seedURL); err == nil && parsed.Domain != "" && parsed.TLD != "" {
		return strings.ToLower(parsed.Domain + "." + parsed.TLD)
	}
	labels := strings.Split(strings.ToLower(hostname), ".")
	if len(labels) <= 2 {
		return strings.ToLower(hostname)
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// Root returns the scope's root domain.
func (s *Scope) Root() string {
	return s.root
}

// IsInScope applies the scope rules in order: URL shape, host root match,
// exclude tokens, static asset extensions, then include patterns.
func (s *Scope) IsInScope(candidate string) bool {
	parsed, err := url.Parse(candidate)
	if err != nil {
		log.Debug().Str("url", candidate).Msg("Candidate URL does not parse, out of scope")
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	if host != s.root && !strings.HasSuffix(host, "."+s.root) {
		return false
	}

	lowered := strings.ToLower(candidate)
	for _, pattern := range s.excludePatterns {
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return false
		}
	}

	loweredPath := strings.ToLower(parsed.Path)
	for _, extension := range s.ignoredExtensions {
		if strings.HasSuffix(loweredPath, extension) {
			return false
		}
	}

	if len(s.includePatterns) > 0 {
		for _, pattern := range s.includePatterns {
			if strings.Contains(lowered, strings.ToLower(pattern)) {
				return true
			}
		}
		if parsed.Path == "/" || parsed.Path == "" {
			return true
		}
		for _, keyword := range s.relevantKeywords {
			if strings.Contains(loweredPath, keyword) {
				return true
			}
		}
		return false
	}

	return true
}
