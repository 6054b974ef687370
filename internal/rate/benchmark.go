// Package rate estimates how fast each mirror can serve a small, well-known
// file. Probes run concurrently under a counting limiter; a failed probe only
// removes its own mirror from the result.
package rate

import (
	"context"
	"log/slog"

	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// Measurement maps a mirror URL to its measured rate in bytes per second.
// Mirrors whose probe failed are absent.
type Measurement map[string]float64

// Get returns the rate for url and whether one was measured.
func (m Measurement) Get(url string) (float64, bool) {
	r, ok := m[url]
	return r, ok
}

// Benchmarker dispatches one probe per mirror.
type Benchmarker struct {
	probers    Probers
	logger     *slog.Logger
	newLimiter func(n int) Limiter
}

// NewBenchmarker creates a Benchmarker using the given per-family probers.
func NewBenchmarker(probers Probers, logger *slog.Logger) *Benchmarker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Benchmarker{
		probers:    probers,
		logger:     logger,
		newLimiter: NewLimiter,
	}
}

type probeResult struct {
	url  string
	rate float64
	err  error

	// interrupted is set when no permit could be acquired before ctx ended.
	interrupted bool
}

// Measure probes every mirror with at most concurrency probes in flight
// (zero or negative for no limit) and returns the rates of those that
// succeeded. Results are gathered in completion order. Failures are logged
// and never retried. A cancelled ctx stops probes that have not started yet.
func (b *Benchmarker) Measure(ctx context.Context, mirrors []mirror.Mirror, concurrency int) Measurement {
	rates := make(Measurement, len(mirrors))
	if len(mirrors) == 0 {
		return rates
	}

	limiter := b.newLimiter(concurrency)
	results := make(chan probeResult)

	// A plain Group: one failed probe must not cancel its siblings. Only
	// interruptions surface through Wait.
	var g errgroup.Group
	for _, m := range mirrors {
		g.Go(func() error {
			res := b.probe(ctx, limiter, m)
			results <- res
			if res.interrupted {
				return res.err
			}
			return nil
		})
	}
	var waitErr error
	go func() {
		waitErr = g.Wait()
		close(results)
	}()

	for r := range results {
		if r.interrupted {
			continue
		}
		if r.err != nil {
			b.logger.Warn("error while rating mirror", "url", r.url, "error", r.err)
			continue
		}
		rates[r.url] = r.rate
		b.logger.Debug("rated mirror", "url", r.url, "rate", humanize.Bytes(uint64(r.rate))+"/s")
	}

	if waitErr != nil {
		b.logger.Warn("rate measurement interrupted", "error", waitErr)
	}
	b.logger.Info("rated mirrors", "probed", len(mirrors), "succeeded", len(rates))
	return rates
}

// probe holds a limiter permit for the duration of one probe.
func (b *Benchmarker) probe(ctx context.Context, limiter Limiter, m mirror.Mirror) probeResult {
	res := probeResult{url: m.URL}
	if err := limiter.Acquire(ctx); err != nil {
		res.err = err
		res.interrupted = true
		return res
	}
	defer limiter.Release()

	prober, err := b.probers.For(m.Protocol)
	if err != nil {
		res.err = err
		return res
	}
	sample, err := prober.Probe(ctx, m)
	if err != nil {
		res.err = err
		return res
	}
	res.rate, res.err = sample.Rate()
	return res
}
