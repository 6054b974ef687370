// Package engine wires the metadata cache, filter, rate benchmark, ranker and
// formatter into a single mirrorlist run.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/BadgerOps/reflector/internal/filter"
	"github.com/BadgerOps/reflector/internal/metadata"
	"github.com/BadgerOps/reflector/internal/mirror"
	"github.com/BadgerOps/reflector/internal/output"
	"github.com/BadgerOps/reflector/internal/rank"
	"github.com/BadgerOps/reflector/internal/rate"
)

// StatusSource returns the current mirror status snapshot.
type StatusSource interface {
	Fetch(ctx context.Context, url string, ttl time.Duration) (*metadata.Result, error)
}

// RateMeasurer benchmarks mirrors and returns the successful rates.
type RateMeasurer interface {
	Measure(ctx context.Context, mirrors []mirror.Mirror, concurrency int) rate.Measurement
}

// Options controls one pipeline run.
type Options struct {
	URL      string
	CacheTTL time.Duration

	Filter filter.Options

	// Caps; zero or negative disables each one.
	Latest  int
	Score   int
	Fastest int
	Number  int

	Sort    rank.Key
	Threads int

	// Info renders every mirror field instead of a mirrorlist.
	Info bool
	// ListCountries renders the country table and skips everything else.
	ListCountries bool

	// Command is recorded in the mirrorlist header.
	Command string
}

// Report summarizes a completed run.
type Report struct {
	Total     int
	Filtered  int
	Measured  int
	Written   int
	Retrieved time.Time
	FromCache bool
}

// Pipeline runs fetch, filter, benchmark, rank and render in that order.
type Pipeline struct {
	source StatusSource
	bench  RateMeasurer
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(source StatusSource, bench RateMeasurer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source: source,
		bench:  bench,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes the pipeline and writes the result to w.
func (p *Pipeline) Run(ctx context.Context, opts Options, w io.Writer) error {
	_, err := p.RunReport(ctx, opts, w)
	return err
}

// RunReport is Run with a summary of what happened.
func (p *Pipeline) RunReport(ctx context.Context, opts Options, w io.Writer) (*Report, error) {
	start := p.now()

	res, err := p.source.Fetch(ctx, opts.URL, opts.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("retrieving mirror status: %w", err)
	}
	status := res.Status
	report := &Report{
		Total:     len(status.URLs),
		Retrieved: res.Retrieved,
		FromCache: res.FromCache,
	}

	if opts.ListCountries {
		if err := output.RenderCountries(w, mirror.CountCountries(status.URLs)); err != nil {
			return nil, fmt.Errorf("writing country list: %w", err)
		}
		return report, nil
	}

	fopts := opts.Filter
	if fopts.Now.IsZero() {
		fopts.Now = start
	}
	filter.Apply(fopts, status)
	mirrors := status.URLs
	report.Filtered = len(mirrors)
	p.logger.Debug("filtered mirrors", "total", report.Total, "kept", report.Filtered)

	mirrors = rank.Latest(mirrors, opts.Latest)
	mirrors = rank.BestScore(mirrors, opts.Score)

	var rates rate.Measurement
	if opts.Sort == rank.KeyRate || opts.Fastest > 0 {
		if p.bench == nil {
			return nil, fmt.Errorf("rate measurement requested but no benchmarker configured")
		}
		rates = p.bench.Measure(ctx, mirrors, opts.Threads)
		report.Measured = len(rates)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("measuring rates: %w", err)
		}
	}
	mirrors = rank.Fastest(mirrors, rates, opts.Fastest)

	rankOpts := rank.Options{Rates: rates}
	if opts.Sort == rank.KeyCountry {
		rankOpts.CountryOrder = opts.Filter.Countries
	}
	if err := rank.Order(mirrors, opts.Sort, rankOpts); err != nil {
		return nil, err
	}
	mirrors = rank.Truncate(mirrors, opts.Number)
	report.Written = len(mirrors)

	if len(mirrors) == 0 {
		p.logger.Warn("no mirrors matched the given criteria")
	}

	if opts.Info {
		err = output.RenderInfo(w, mirrors, rates)
	} else {
		err = output.Render(w, output.Provenance{
			Command:   opts.Command,
			When:      start,
			Origin:    opts.URL,
			Retrieved: res.Retrieved,
			LastCheck: status.LastCheck,
		}, mirrors)
	}
	if err != nil {
		return nil, fmt.Errorf("writing mirrorlist: %w", err)
	}

	p.logger.Info("mirrorlist generated",
		"total", report.Total,
		"filtered", report.Filtered,
		"measured", report.Measured,
		"written", report.Written,
		"from_cache", report.FromCache,
		"elapsed", p.now().Sub(start).Round(time.Millisecond),
	)
	return report, nil
}
