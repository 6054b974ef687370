// Package filter narrows a mirror status snapshot down to the mirrors that
// satisfy every requested predicate.
package filter

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
)

// AnyCountry in a country list matches every country.
const AnyCountry = "*"

// Options are the inclusive filter criteria. The zero value only removes
// mirrors that were never synchronized.
type Options struct {
	// Now is the reference time for the age check. Zero means time.Now().
	Now time.Time
	// MaxAge rejects mirrors whose last sync is older than this. Zero or
	// negative disables the check.
	MaxAge time.Duration
	// MinCompletion rejects mirrors reporting a completion fraction below it.
	MinCompletion float64
	// Countries holds country names and/or codes; matching ignores case.
	Countries []string
	Protocols []mirror.Protocol
	// MaxDelay rejects mirrors with an unknown delay or one above it.
	MaxDelay *time.Duration
	ISOs     bool
	IPv4     bool
	IPv6     bool
	// Include, when non-empty, requires the URL to match at least one pattern.
	Include []*regexp.Regexp
	// Exclude rejects URLs matching any pattern.
	Exclude []*regexp.Regexp
}

// Apply removes every mirror that fails Match from status.URLs. Survivors keep
// their relative order.
func Apply(opts Options, status *mirror.Status) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	opts.Countries = normalizeCountries(opts.Countries)
	status.URLs = slices.DeleteFunc(status.URLs, func(m mirror.Mirror) bool {
		return !match(&opts, &m)
	})
}

// Match reports whether a single mirror passes every predicate in opts.
func Match(opts Options, m mirror.Mirror) bool {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	opts.Countries = normalizeCountries(opts.Countries)
	return match(&opts, &m)
}

// match expects opts.Now set and opts.Countries normalized.
func match(opts *Options, m *mirror.Mirror) bool {
	if m.LastSync == nil {
		return false
	}

	if opts.MaxAge > 0 && opts.Now.Sub(*m.LastSync) > opts.MaxAge {
		return false
	}

	if m.CompletionPct != nil && *m.CompletionPct < opts.MinCompletion {
		return false
	}

	if len(opts.Countries) > 0 && !countryMatches(opts.Countries, m) {
		return false
	}

	if len(opts.Protocols) > 0 && !slices.Contains(opts.Protocols, m.Protocol) {
		return false
	}

	if opts.MaxDelay != nil {
		if m.Delay == nil {
			return false
		}
		if time.Duration(*m.Delay)*time.Second > *opts.MaxDelay {
			return false
		}
	}

	if opts.ISOs && !m.ISOs {
		return false
	}
	if opts.IPv4 && !m.IPv4 {
		return false
	}
	if opts.IPv6 && !m.IPv6 {
		return false
	}

	if len(opts.Include) > 0 && !anyMatch(opts.Include, m.URL) {
		return false
	}
	if anyMatch(opts.Exclude, m.URL) {
		return false
	}

	return true
}

func countryMatches(countries []string, m *mirror.Mirror) bool {
	name := strings.ToLower(m.Country)
	code := strings.ToLower(m.CountryCode)
	for _, c := range countries {
		if c == AnyCountry || c == name || (code != "" && c == code) {
			return true
		}
	}
	return false
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func normalizeCountries(countries []string) []string {
	if len(countries) == 0 {
		return nil
	}
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// CompileRegexps compiles include/exclude patterns, naming the first bad one.
func CompileRegexps(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
