/*
Package main is the entry point for the dnsdeny command-line application.

dnsdeny builds DNS blocklists from hosts-file style sources. Its primary
functionalities include:
  - Filtering local hosts-file input into a deduplicated domain list.
  - Generating a merged blocklist from configured remote sources.
  - Mirroring raw source payloads to local files.
  - Listing and saving the configured source set.

The application uses the Cobra library for command-line interface structure
and flag parsing. It leverages several internal packages:
  - `internal/filter`: Domain extraction, normalization, deduplication and
    rendering to plain or Unbound output.
  - `internal/source`: Source definitions, YAML loading and payload fetching.
  - `internal/client`: A configurable shared HTTP client.
  - `internal/core`: The processing engine: a concurrent scheduler, the
    blocklist generator and the payload mirror.
  - `internal/cache`: An optional Badger-backed payload cache.
  - `internal/metrics`: Prometheus metrics for monitoring.

Graceful shutdown is handled via context cancellation triggered by OS
signals (SIGINT, SIGTERM).
*/
package main

/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dnsdeny/internal/cache"
	"github.com/dnsdeny/internal/client"
	"github.com/dnsdeny/internal/config"
	"github.com/dnsdeny/internal/core"
	"github.com/dnsdeny/internal/filter"
	"github.com/dnsdeny/internal/logging"
	"github.com/dnsdeny/internal/metrics"
	"github.com/dnsdeny/internal/source"
)

// Persistent flags
var (
	configFile   string
	localSources string
	metricsPort  int
	debug        bool
	turbo        bool
)

// Flags shared by output-producing commands
var (
	outputPath   string
	outputFormat string
	sortOutput   bool
	dohSentinel  bool
	compress     bool
	bufferSize   int
	showStats    bool
)

// Flags for mirror
var mirrorDir string

// Flags for fetch-sources
var sourcesOut string

// cfg is loaded in the root PersistentPreRunE and shared by all commands.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dnsdeny",
	Short: "dnsdeny - a DNS blocklist fetcher, filter and renderer",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configFile != "" {
			cfg, err = config.Load(configFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}

		if debug {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(&cfg.Logging); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if localSources != "" {
			source.UseLocalSources = true
			source.LocalSourcesFile = localSources
			logging.Info("using local sources file", "path", localSources)
		} else if cfg.SourcesFile != "" {
			source.UseLocalSources = true
			source.LocalSourcesFile = cfg.SourcesFile
		}

		if turbo || cfg.HTTP.Turbo {
			logging.Info("enabling turbo mode for HTTP client")
			client.ConfigureTurboMode()
		} else if cfg.HTTP.MaxIdleConns > 0 || cfg.HTTP.MaxIdleConnsPerHost > 0 || cfg.HTTP.RequestTimeout > 0 {
			client.ConfigureHTTPClient(&client.Config{
				MaxIdleConns:        cfg.HTTP.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
				RequestTimeout:      cfg.HTTP.RequestTimeout,
			})
		}

		if metricsPort > 0 {
			metrics.EnableMetrics()
			if err := metrics.StartMetricsServer(fmt.Sprintf(":%d", metricsPort)); err != nil {
				logging.Warnf("failed to start metrics server: %v", err)
			}
		}
		return nil
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter [files...]",
	Short: "Filter hosts-file input into a deduplicated domain list",
	Long: `Reads hosts-file style text from the given files in order (or stdin
when none are given), extracts domain tokens, deduplicates them in
first-seen order and renders the result to stdout (or --output).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilter(args)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Fetch all sources and generate a merged blocklist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate()
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror raw source payloads to local files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMirror()
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured blocklist sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSources()
	},
}

var fetchSourcesCmd = &cobra.Command{
	Use:   "fetch-sources",
	Short: "Save the default source list to a local YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchAndSaveSources()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&localSources, "local-sources", "", "Use a local sources YAML file instead of the built-in defaults")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port (0 disables metrics)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&turbo, "turbo", false, "Enable high-speed mode for the HTTP client")

	filterCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	filterCmd.Flags().StringVarP(&outputFormat, "format", "f", "plain", "Output format: plain or unbound")
	filterCmd.Flags().BoolVar(&sortOutput, "sort", false, "Sort output domains lexicographically")
	filterCmd.Flags().BoolVar(&dohSentinel, "doh-sentinel", false, "Append the DNS-over-HTTPS canary domain")

	generateCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file (default stdout)")
	generateCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: plain or unbound (overrides config)")
	generateCmd.Flags().BoolVar(&sortOutput, "sort", false, "Sort output domains lexicographically")
	generateCmd.Flags().BoolVar(&dohSentinel, "doh-sentinel", false, "Append the DNS-over-HTTPS canary domain")
	generateCmd.Flags().BoolVar(&compress, "compress", false, "Compress output file with gzip")
	generateCmd.Flags().IntVarP(&bufferSize, "buffer", "b", core.DefaultDiskBufferSize, "Internal buffer size in bytes for disk I/O")
	generateCmd.Flags().BoolVarP(&showStats, "stats", "s", false, "Show statistics during processing")

	mirrorCmd.Flags().StringVarP(&mirrorDir, "output", "o", "mirror", "Output directory for mirrored payloads")
	mirrorCmd.Flags().BoolVar(&compress, "compress", false, "Compress mirrored files with gzip")
	mirrorCmd.Flags().IntVarP(&bufferSize, "buffer", "b", core.DefaultDiskBufferSize, "Internal buffer size in bytes for disk I/O")

	fetchSourcesCmd.Flags().StringVarP(&sourcesOut, "output", "o", "sources.yaml", "Output file for the source list")

	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(fetchSourcesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := metrics.ShutdownMetricsServer(shutdownCtx); err != nil {
		logging.Warnf("error shutting down metrics server: %v", err)
	}
	if err := logging.GetLogger().Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file: %v\n", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		logging.Info("interrupt received, initiating graceful shutdown")
		cancel()
	}()
	return ctx, cancel
}

// renderOptions resolves the output options, with command-line flags taking
// precedence over the configuration file. The format is validated before any
// input is consumed.
func renderOptions() (filter.Options, error) {
	formatStr := outputFormat
	if formatStr == "" {
		formatStr = cfg.Output.Format
	}
	format, err := filter.ParseFormat(formatStr)
	if err != nil {
		return filter.Options{}, err
	}
	return filter.Options{
		Format:            format,
		SortOutput:        sortOutput || cfg.Output.Sort,
		AppendDoHSentinel: dohSentinel || cfg.Output.DoHSentinel,
	}, nil
}

// runFilter handles the 'filter' command: local input, no network. The
// format selector is validated before any input is consumed.
func runFilter(paths []string) error {
	opts, err := renderOptions()
	if err != nil {
		return err
	}

	fl := filter.New(opts)
	if len(paths) == 0 {
		if err := fl.Scan(os.Stdin); err != nil {
			return err
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open input file %s: %w", path, err)
		}
		scanErr := fl.Scan(f)
		f.Close()
		if scanErr != nil {
			return scanErr
		}
	}

	var out io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		defer f.Close()
		out = f
	}

	if _, err := fl.RenderTo(out); err != nil {
		return err
	}

	st := fl.Stats()
	logging.Infof("filtered %d lines into %d unique domains (%d duplicates skipped)",
		st.LinesScanned, fl.Len(), st.DuplicatesSkipped)
	return nil
}

// newFetcher builds the payload fetcher, opening the cache when enabled.
// The returned closer is a no-op for the cacheless fetcher.
func newFetcher() (*source.Fetcher, func(), error) {
	if !cfg.Cache.Enabled {
		return &source.Fetcher{}, func() {}, nil
	}

	store, err := cache.NewBadgerStore(&cache.BadgerConfig{
		Path:        cfg.Cache.Path,
		MaxMemoryMB: cfg.Cache.MaxMemoryMB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache at %s: %w", cfg.Cache.Path, err)
	}

	closer := func() {
		if err := store.Close(); err != nil {
			logging.Warnf("error closing cache: %v", err)
		}
	}
	return &source.Fetcher{Cache: store, CacheTTL: cfg.Cache.TTL}, closer, nil
}

// runGenerate handles the 'generate' command.
func runGenerate() error {
	opts, err := renderOptions()
	if err != nil {
		return err
	}

	sources, err := source.GetSources()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fetcher, closeCache, err := newFetcher()
	if err != nil {
		return err
	}
	defer closeCache()

	outPath := outputPath
	if outPath == "" {
		outPath = cfg.Output.Path
	}

	gen, err := core.NewGenerator(ctx, &core.GeneratorConfig{
		OutputPath: outPath,
		BufferSize: bufferSize,
		Compress:   compress || cfg.Output.Compress,
		Options:    opts,
	}, fetcher)
	if err != nil {
		return err
	}

	var statsWg sync.WaitGroup
	if showStats {
		statsWg.Add(1)
		go func() {
			defer statsWg.Done()
			displayGenerateStats(ctx, gen)
		}()
	}

	genErr := gen.Generate(ctx, sources)
	cancel()
	statsWg.Wait()

	if genErr != nil && !errors.Is(genErr, context.Canceled) {
		return genErr
	}
	return nil
}

// runMirror handles the 'mirror' command.
func runMirror() error {
	sources, err := source.GetSources()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fetcher, closeCache, err := newFetcher()
	if err != nil {
		return err
	}
	defer closeCache()

	mm, err := core.NewMirrorManager(ctx, &core.MirrorConfig{
		OutputDir:  mirrorDir,
		BufferSize: bufferSize,
		Compress:   compress,
	}, fetcher)
	if err != nil {
		return err
	}

	if err := mm.Mirror(sources); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// listSources handles the 'sources' command.
func listSources() error {
	sources, err := source.GetSources()
	if err != nil {
		return err
	}

	for _, src := range sources {
		fmt.Printf("%s\n", src.Name)
		fmt.Printf("    \\- URL:  %s\n", src.URL)
		fmt.Printf("    \\- Host: %s\n", src.Host())
		fmt.Println()
	}
	fmt.Printf("Found %d blocklist sources\n", len(sources))
	return nil
}

// fetchAndSaveSources handles the 'fetch-sources' command: write the default
// source set to a local YAML file for editing.
func fetchAndSaveSources() error {
	sources := source.Defaults()
	if err := source.WriteFile(sourcesOut, sources); err != nil {
		return err
	}
	fmt.Printf("Wrote %d sources to %s\n", len(sources), sourcesOut)
	return nil
}

// displayGenerateStats periodically shows generation progress.
func displayGenerateStats(ctx context.Context, gen *core.Generator) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	startTime := gen.GetStats().StartTime
	for {
		select {
		case <-ticker.C:
			stats := gen.GetStats()
			elapsed := time.Since(startTime).Seconds()
			if elapsed < 0.1 {
				elapsed = 0.1
			}
			lines := stats.LinesScanned.Load()
			fmt.Printf("\rSources: %d/%d | Failed: %d | Lines: %d | Rate: %.0f lines/s",
				stats.ProcessedSources.Load(),
				stats.TotalSources.Load(),
				stats.FailedSources.Load(),
				lines,
				float64(lines)/elapsed,
			)
		case <-ctx.Done():
			fmt.Println()
			return
		}
	}
}
