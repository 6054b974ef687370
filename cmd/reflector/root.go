package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/reflector/internal/config"
	"github.com/BadgerOps/reflector/internal/engine"
	"github.com/BadgerOps/reflector/internal/filter"
	"github.com/BadgerOps/reflector/internal/metadata"
	"github.com/BadgerOps/reflector/internal/rank"
	"github.com/BadgerOps/reflector/internal/rate"
	"github.com/BadgerOps/reflector/internal/safety"
	"github.com/spf13/cobra"
)

const userAgent = "reflector/1.0"

var (
	// Global flags
	cfgPath   string
	cacheFile string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    *slog.Logger
)

// runFlags holds the root command flags that map onto config values.
type runFlags struct {
	url               string
	listCountries     bool
	connectionTimeout int
	downloadTimeout   int
	cacheTimeout      int
	save              string
	sort              string
	threads           int
	info              bool

	age               float64
	delay             float64
	countries         []string
	fastest           int
	include           []string
	exclude           []string
	latest            int
	score             int
	number            int
	protocols         []string
	completionPercent int
	isos              bool
	ipv4              bool
	ipv6              bool
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *runFlags) {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "reflector",
		Short: "Retrieve and rank Arch Linux mirrors",
		Long: `reflector retrieves the Arch Linux mirror status, filters the mirrors by
age, country, protocol and other criteria, optionally measures their download
rate and writes a pacman mirrorlist.`,
		Example: `  reflector --latest 20 --protocol https --sort rate --save /etc/pacman.d/mirrorlist
  reflector --country France,Germany --age 12 --sort country
  reflector --list-countries
  reflector --info --country SE`,
		Version:      "1.0.0",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if cacheFile != "" {
				globalCfg.Cache.Path = cacheFile
			}
			applyFlagOverrides(cmd, flags, globalCfg)

			if err := globalCfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger.Debug("config loaded", "path", cfgPath, "url", globalCfg.URL)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootRun(cmd.Context(), globalCfg, flags, commandLine())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	pf.StringVar(&cacheFile, "cache-file", "", "override the mirror status cache file")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	f := cmd.Flags()
	f.StringVar(&flags.url, "url", metadata.DefaultURL, "URL of the mirror status JSON")
	f.BoolVar(&flags.listCountries, "list-countries", false, "list countries and their mirror counts, then exit")
	f.IntVar(&flags.connectionTimeout, "connection-timeout", 5, "server connection timeout in seconds")
	f.IntVar(&flags.downloadTimeout, "download-timeout", 5, "download timeout in seconds")
	f.IntVar(&flags.cacheTimeout, "cache-timeout", 300, "maximum age of the cached mirror status in seconds")
	f.StringVar(&flags.save, "save", "", "write the mirrorlist to this path instead of stdout")
	f.StringVar(&flags.sort, "sort", "", "sort the mirrorlist by one of: "+sortKeys())
	f.IntVar(&flags.threads, "threads", 0, "maximum number of concurrent rate probes (0 for no limit)")
	f.BoolVar(&flags.info, "info", false, "print every mirror field instead of a mirrorlist")

	f.Float64VarP(&flags.age, "age", "a", 0, "only return mirrors synchronized within this many hours")
	f.Float64Var(&flags.delay, "delay", 0, "only return mirrors with a reported sync delay of at most this many hours")
	f.StringSliceVarP(&flags.countries, "country", "c", nil, "restrict mirrors to these countries or country codes (\"*\" for any)")
	f.IntVarP(&flags.fastest, "fastest", "f", 0, "return the n fastest mirrors that meet the other criteria")
	f.StringArrayVarP(&flags.include, "include", "i", nil, "include mirrors whose URL matches this regular expression")
	f.StringArrayVarP(&flags.exclude, "exclude", "x", nil, "exclude mirrors whose URL matches this regular expression")
	f.IntVarP(&flags.latest, "latest", "l", 0, "limit the list to the n most recently synchronized mirrors")
	f.IntVar(&flags.score, "score", 0, "limit the list to the n mirrors with the best score")
	f.IntVarP(&flags.number, "number", "n", 0, "return at most n mirrors")
	f.StringSliceVarP(&flags.protocols, "protocol", "p", nil, "restrict mirrors to these protocols (http, https, rsync)")
	f.IntVar(&flags.completionPercent, "completion-percent", 100, "minimum completion percentage of mirror checks")
	f.BoolVar(&flags.isos, "isos", false, "only return mirrors that host ISOs")
	f.BoolVar(&flags.ipv4, "ipv4", false, "only return mirrors that support IPv4")
	f.BoolVar(&flags.ipv6, "ipv6", false, "only return mirrors that support IPv6")

	cmd.AddCommand(newConfigCmd())

	return cmd, flags
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, flags *runFlags, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("url") {
		cfg.URL = flags.url
	}
	if changed("connection-timeout") {
		cfg.Timeouts.Connection = flags.connectionTimeout
	}
	if changed("download-timeout") {
		cfg.Timeouts.Download = flags.downloadTimeout
	}
	if changed("cache-timeout") {
		cfg.Cache.TTL = flags.cacheTimeout
	}
	if changed("save") {
		cfg.Save = flags.save
	}
	if changed("sort") {
		cfg.Sort = flags.sort
	}
	if changed("threads") {
		cfg.Rate.Threads = flags.threads
	}

	fc := &cfg.Filters
	if changed("age") {
		fc.Age = flags.age
	}
	if changed("delay") {
		d := flags.delay
		fc.Delay = &d
	}
	if changed("country") {
		fc.Countries = flags.countries
	}
	if changed("fastest") {
		fc.Fastest = flags.fastest
	}
	if changed("include") {
		fc.Include = flags.include
	}
	if changed("exclude") {
		fc.Exclude = flags.exclude
	}
	if changed("latest") {
		fc.Latest = flags.latest
	}
	if changed("score") {
		fc.Score = flags.score
	}
	if changed("number") {
		fc.Number = flags.number
	}
	if changed("protocol") {
		fc.Protocols = flags.protocols
	}
	if changed("completion-percent") {
		fc.CompletionPercent = flags.completionPercent
	}
	if changed("isos") {
		fc.ISOs = flags.isos
	}
	if changed("ipv4") {
		fc.IPv4 = flags.ipv4
	}
	if changed("ipv6") {
		fc.IPv6 = flags.ipv6
	}
}

// buildOptions translates the effective config into pipeline options.
func buildOptions(cfg *config.Config, flags *runFlags, command string) (engine.Options, error) {
	sortKey, err := rank.ParseKey(cfg.Sort)
	if err != nil {
		return engine.Options{}, err
	}
	protocols, err := cfg.ParsedProtocols()
	if err != nil {
		return engine.Options{}, err
	}
	include, err := filter.CompileRegexps(cfg.Filters.Include)
	if err != nil {
		return engine.Options{}, fmt.Errorf("include: %w", err)
	}
	exclude, err := filter.CompileRegexps(cfg.Filters.Exclude)
	if err != nil {
		return engine.Options{}, fmt.Errorf("exclude: %w", err)
	}

	fopts := filter.Options{
		MaxAge:        hours(cfg.Filters.Age),
		MinCompletion: float64(cfg.Filters.CompletionPercent) / 100,
		Countries:     cfg.Filters.Countries,
		Protocols:     protocols,
		ISOs:          cfg.Filters.ISOs,
		IPv4:          cfg.Filters.IPv4,
		IPv6:          cfg.Filters.IPv6,
		Include:       include,
		Exclude:       exclude,
	}
	if cfg.Filters.Delay != nil {
		d := hours(*cfg.Filters.Delay)
		fopts.MaxDelay = &d
	}

	return engine.Options{
		URL:           cfg.URL,
		CacheTTL:      cfg.CacheTTL(),
		Filter:        fopts,
		Latest:        cfg.Filters.Latest,
		Score:         cfg.Filters.Score,
		Fastest:       cfg.Filters.Fastest,
		Number:        cfg.Filters.Number,
		Sort:          sortKey,
		Threads:       cfg.Rate.Threads,
		Info:          flags.info,
		ListCountries: flags.listCountries,
		Command:       command,
	}, nil
}

// newPipeline builds the cache and benchmarker from the effective config.
func newPipeline(cfg *config.Config) (*engine.Pipeline, error) {
	cachePath, err := cfg.CachePath()
	if err != nil {
		return nil, fmt.Errorf("resolving cache path: %w", err)
	}

	client := safety.NewHTTPClient(cfg.ConnectionTimeout(), cfg.DownloadTimeout())
	cache := metadata.NewCache(client, cachePath, logger)

	bench := rate.NewBenchmarker(rate.Probers{
		Pull: &rate.HTTPProber{
			Client:    client,
			ProbePath: cfg.Rate.ProbePath,
			UserAgent: userAgent,
		},
		Sync: &rate.RsyncProber{
			Binary:         cfg.Rate.RsyncBinary,
			ProbePath:      cfg.Rate.ProbePath,
			ConnectTimeout: cfg.ConnectionTimeout(),
			Timeout:        cfg.ConnectionTimeout() + cfg.DownloadTimeout(),
		},
	}, logger)

	return engine.NewPipeline(cache, bench, logger), nil
}

func rootRun(ctx context.Context, cfg *config.Config, flags *runFlags, command string) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	opts, err := buildOptions(cfg, flags, command)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	if opts.ListCountries && cfg.Save != "" {
		// The save target is usually the live mirrorlist; never overwrite it
		// with the country table.
		logger.Warn("--save is ignored with --list-countries", "path", cfg.Save)
	}
	if cfg.Save == "" || opts.ListCountries {
		return pipeline.Run(ctx, opts, os.Stdout)
	}

	var buf bytes.Buffer
	if err := pipeline.Run(ctx, opts, &buf); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Save, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("saving mirrorlist: %w", err)
	}
	logger.Info("mirrorlist saved", "path", cfg.Save)
	return nil
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}

func commandLine() string {
	return strings.Join(append([]string{"reflector"}, os.Args[1:]...), " ")
}

func sortKeys() string {
	keys := make([]string, 0, len(rank.Keys))
	for _, k := range rank.Keys {
		keys = append(keys, string(k))
	}
	return strings.Join(keys, ", ")
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
