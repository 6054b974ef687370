package rank

import (
	"slices"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/rate"
)

// Latest keeps the n most recently synchronized mirrors, newest first.
// n <= 0 returns mirrors unchanged.
func Latest(mirrors []mirror.Mirror, n int) []mirror.Mirror {
	if n <= 0 {
		return mirrors
	}
	out := slices.Clone(mirrors)
	slices.SortStableFunc(out, func(a, b mirror.Mirror) int {
		return compareTime(b.LastSync, a.LastSync)
	})
	return Truncate(out, n)
}

// BestScore keeps the n mirrors with the lowest score.
func BestScore(mirrors []mirror.Mirror, n int) []mirror.Mirror {
	if n <= 0 {
		return mirrors
	}
	out := slices.Clone(mirrors)
	_ = Order(out, KeyScore, Options{})
	return Truncate(out, n)
}

// Fastest keeps the n mirrors with the highest measured rate.
func Fastest(mirrors []mirror.Mirror, rates rate.Measurement, n int) []mirror.Mirror {
	if n <= 0 {
		return mirrors
	}
	out := slices.Clone(mirrors)
	_ = Order(out, KeyRate, Options{Rates: rates})
	return Truncate(out, n)
}

// Truncate returns at most n mirrors.
func Truncate(mirrors []mirror.Mirror, n int) []mirror.Mirror {
	if n <= 0 || len(mirrors) <= n {
		return mirrors
	}
	return mirrors[:n]
}
