// Package rank orders mirrors by a single key and applies result-size caps.
package rank

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/rate"
)

// Key selects the field mirrors are ordered by.
type Key string

const (
	// KeyNone keeps the order the mirrors arrived in.
	KeyNone    Key = ""
	KeyAge     Key = "age"
	KeyRate    Key = "rate"
	KeyCountry Key = "country"
	KeyScore   Key = "score"
	KeyDelay   Key = "delay"
)

// Keys lists every selectable sort key.
var Keys = []Key{KeyAge, KeyRate, KeyCountry, KeyScore, KeyDelay}

// ParseKey validates a user supplied sort key. The empty string is KeyNone.
func ParseKey(s string) (Key, error) {
	k := Key(strings.ToLower(strings.TrimSpace(s)))
	if k == KeyNone || slices.Contains(Keys, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q (valid: %v)", s, Keys)
}

// Options carries the inputs some keys need.
type Options struct {
	// Rates is required for KeyRate; unmeasured mirrors sort last.
	Rates rate.Measurement
	// CountryOrder, when set, replaces alphabetical order for KeyCountry.
	// Entries are names or codes; "*" marks where unlisted countries go.
	CountryOrder []string
}

// Order sorts mirrors in place with a stable sort:
//
//	age:     last sync ascending, never-synced first
//	rate:    measured rate descending, unmeasured last
//	country: country name ascending, or CountryOrder position
//	score:   score ascending (lower is better), missing last
//	delay:   delay ascending (smaller is better), missing last
func Order(mirrors []mirror.Mirror, key Key, opts Options) error {
	var compare func(a, b mirror.Mirror) int

	switch key {
	case KeyNone:
		return nil
	case KeyAge:
		compare = func(a, b mirror.Mirror) int {
			return compareTime(a.LastSync, b.LastSync)
		}
	case KeyRate:
		compare = func(a, b mirror.Mirror) int {
			ra, okA := opts.Rates.Get(a.URL)
			rb, okB := opts.Rates.Get(b.URL)
			if c := presentFirst(okA, okB); c != 0 || !okA {
				return c
			}
			return cmp.Compare(rb, ra)
		}
	case KeyCountry:
		if len(opts.CountryOrder) > 0 {
			order := newCountryOrder(opts.CountryOrder)
			compare = func(a, b mirror.Mirror) int {
				if c := cmp.Compare(order.position(a), order.position(b)); c != 0 {
					return c
				}
				return strings.Compare(a.Country, b.Country)
			}
		} else {
			compare = func(a, b mirror.Mirror) int {
				return strings.Compare(a.Country, b.Country)
			}
		}
	case KeyScore:
		compare = func(a, b mirror.Mirror) int {
			return compareMissingLast(a.Score, b.Score)
		}
	case KeyDelay:
		compare = func(a, b mirror.Mirror) int {
			return compareMissingLast(a.Delay, b.Delay)
		}
	default:
		return fmt.Errorf("unknown sort key %q", key)
	}

	slices.SortStableFunc(mirrors, compare)
	return nil
}

// presentFirst orders present values before absent ones. It returns 0 when
// both or neither are present.
func presentFirst(okA, okB bool) int {
	switch {
	case okA && !okB:
		return -1
	case !okA && okB:
		return 1
	}
	return 0
}

func compareMissingLast[T cmp.Ordered](a, b *T) int {
	if c := presentFirst(a != nil, b != nil); c != 0 || a == nil {
		return c
	}
	return cmp.Compare(*a, *b)
}

// compareTime orders nil before any timestamp.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

type countryOrder struct {
	index    map[string]int
	wildcard int
}

func newCountryOrder(countries []string) countryOrder {
	o := countryOrder{index: make(map[string]int, len(countries)), wildcard: -1}
	for i, c := range countries {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "*" {
			if o.wildcard < 0 {
				o.wildcard = i
			}
			continue
		}
		if _, seen := o.index[c]; !seen && c != "" {
			o.index[c] = i
		}
	}
	if o.wildcard < 0 {
		o.wildcard = len(countries)
	}
	return o
}

func (o countryOrder) position(m mirror.Mirror) int {
	if i, ok := o.index[strings.ToLower(m.Country)]; ok && m.Country != "" {
		return i
	}
	if i, ok := o.index[strings.ToLower(m.CountryCode)]; ok && m.CountryCode != "" {
		return i
	}
	return o.wildcard
}
