package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apthunt/harvester/browser"
	"github.com/apthunt/harvester/classifier"
	"github.com/apthunt/harvester/config"
	"github.com/apthunt/harvester/engine"
	"github.com/apthunt/harvester/identity"
	"github.com/apthunt/harvester/llm"
	"github.com/apthunt/harvester/models"
	"github.com/apthunt/harvester/parser"
	"github.com/apthunt/harvester/registry"
	"github.com/apthunt/harvester/repair"
	"github.com/apthunt/harvester/sink"
)

func main() {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	generationDefault := defaultCfg.GenerationURL
	if value, ok := config.EnvString("HARVESTER_GENERATION_URL"); ok {
		generationDefault = value
	}
	modelDefault := defaultCfg.GenerationModel
	if value, ok := config.EnvString("HARVESTER_GENERATION_MODEL"); ok {
		modelDefault = value
	}
	dsnDefault := ""
	if value, ok := config.EnvString("HARVESTER_REGISTRY_DSN"); ok {
		dsnDefault = value
	}
	concurrencyDefault := defaultCfg.Concurrency
	if value, ok, err := config.EnvInt("HARVESTER_CONCURRENCY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_CONCURRENCY: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrencyDefault = value
	}

	site := flag.String("site", "", "Target site name (required)")
	scriptPath := flag.String("seed-script", "", "Path to a seed script to install before running")
	forceSeed := flag.Bool("force-seed", false, "Reseed even if the site already has versions")
	minPrice := flag.Int("min-price", 1000, "Minimum listing price")
	maxPrice := flag.Int("max-price", 2000, "Maximum listing price")
	bedrooms := flag.Int("beds", 1, "Bedroom count")
	location := flag.String("location", "", "Location token for the search")
	automation := flag.String("automation", "static", "Automation capability: static or playwright")
	browserEndpoint := flag.String("browser-endpoint", "", "Remote browser CDP endpoint (playwright only)")
	poolsPath := flag.String("pools", "pools.yaml", "Identity pools file")
	dsn := flag.String("registry-dsn", dsnDefault, "Postgres DSN for the script registry (empty = in-memory)")
	generationURL := flag.String("generation-url", generationDefault, "Generation service endpoint")
	generationModel := flag.String("generation-model", modelDefault, "Generation service model")
	minDelay := flag.Duration("min-delay", defaultCfg.MinDelay, "Minimum pre-navigation delay")
	maxDelay := flag.Duration("max-delay", defaultCfg.MaxDelay, "Maximum pre-navigation delay")
	maxTransient := flag.Int("max-transient-retries", defaultCfg.MaxTransientRetries, "Transient retry budget per request")
	maxRepairs := flag.Int("max-repairs", defaultCfg.MaxRepairAttempts, "Repair budget per request")
	navTimeout := flag.Duration("nav-timeout", defaultCfg.NavigationTimeout, "Per-navigation hard timeout")
	genTimeout := flag.Duration("gen-timeout", defaultCfg.GenerationTimeout, "Per-generation hard timeout")
	concurrency := flag.Int("concurrency", concurrencyDefault, "Worker pool size")
	outputFile := flag.String("output", defaultCfg.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, or dual")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if *site == "" {
		slog.Error("missing required -site flag")
		os.Exit(1)
	}

	cfg := defaultCfg
	cfg.MinDelay = *minDelay
	cfg.MaxDelay = *maxDelay
	cfg.MaxTransientRetries = *maxTransient
	cfg.MaxRepairAttempts = *maxRepairs
	cfg.NavigationTimeout = *navTimeout
	cfg.GenerationTimeout = *genTimeout
	cfg.Concurrency = *concurrency
	cfg.GenerationURL = *generationURL
	cfg.GenerationModel = *generationModel
	cfg.RegistryDSN = *dsn
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	pools, err := config.LoadPools(*poolsPath)
	if err != nil {
		slog.Error("loading identity pools", slog.Any("error", err))
		os.Exit(1)
	}
	pools.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("opening registry store", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	if *scriptPath != "" {
		body, err := os.ReadFile(*scriptPath)
		if err != nil {
			slog.Error("reading seed script", slog.Any("error", err))
			os.Exit(1)
		}
		version, err := store.Seed(ctx, *site, string(body), *forceSeed)
		if errors.Is(err, registry.ErrAlreadySeeded) {
			slog.Info("site already seeded, keeping existing versions", slog.String("site", *site))
		} else if err != nil {
			slog.Error("seeding script", slog.Any("error", err))
			os.Exit(1)
		} else {
			slog.Info("seed script installed",
				slog.String("site", *site),
				slog.Int("version", version.Version),
			)
		}
	}

	auto, autoCleanup, err := openAutomation(*automation, *browserEndpoint)
	if err != nil {
		slog.Error("starting automation", slog.Any("error", err))
		os.Exit(1)
	}
	defer autoCleanup()

	metrics := repair.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	eng := engine.New(auto, cfg.NavigationTimeout)
	cls := classifier.New(cfg.BlockMarkers)
	gen := llm.NewClient(cfg.GenerationURL, cfg.GenerationModel, cfg.GenerationTimeout)
	proxies := identity.NewProxyRing(cfg.Proxies)

	// One loop per worker so each owns its identity sequence.
	loops := make([]*repair.Loop, cfg.Concurrency)
	for i := range loops {
		idents := identity.NewGenerator(cfg, pools, proxies, time.Now().UnixNano()+int64(i))
		loops[i] = repair.NewLoop(cfg, eng, store, cls, gen, idents, metrics, time.Now().UnixNano()-int64(i))
	}
	pool := repair.NewPool(loops, cfg.QueueSize)
	pool.Start(ctx)

	target := models.TargetSite{
		Name: *site,
		Params: models.SearchParams{
			MinPrice: *minPrice,
			MaxPrice: *maxPrice,
			Bedrooms: *bedrooms,
			Location: *location,
		},
	}

	slog.Info("starting extraction",
		slog.String("site", target.Name),
		slog.String("automation", *automation),
		slog.Int("workers", cfg.Concurrency),
	)

	start := time.Now()
	job, err := pool.Submit(repair.Request{ID: uuid.NewString(), Site: target})
	if err != nil {
		slog.Error("submitting request", slog.Any("error", err))
		os.Exit(1)
	}
	<-job.Done()
	pool.Close()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if job.Outcome.State != repair.StateSucceeded {
		slog.Error("extraction failed",
			slog.String("reason", string(job.Outcome.Reason)),
			slog.Int("transient_retries", job.Outcome.TransientRetries),
			slog.Int("repairs", job.Outcome.RepairsUsed),
			slog.Any("error", job.Err),
		)
		os.Exit(1)
	}

	written, err := writeResult(cfg, job.Outcome.Result)
	if err != nil {
		slog.Error("writing results", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(job.Outcome, written, time.Since(start), cfg.OutputFile)
}

func openStore(ctx context.Context, cfg *config.Config) (registry.Store, func(), error) {
	if cfg.RegistryDSN == "" {
		return registry.NewMemoryStore(), func() {}, nil
	}
	store, err := registry.NewPostgresStore(ctx, cfg.RegistryDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func openAutomation(kind, endpoint string) (browser.Automation, func(), error) {
	switch kind {
	case "static":
		return browser.NewStatic(), func() {}, nil
	case "playwright":
		auto, err := browser.NewPlaywright(endpoint)
		if err != nil {
			return nil, nil, err
		}
		return auto, func() {
			if err := auto.Close(); err != nil {
				slog.Error("close browser", slog.Any("error", err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported automation %q", kind)
	}
}

func writeResult(cfg *config.Config, result *models.ExtractionResult) (int, error) {
	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	deduper, err := parser.NewDeduper(cfg.DedupeMaxSize)
	if err != nil {
		return 0, err
	}
	unique := deduper.Filter(result.Listings)

	if err := writer.Write(unique); err != nil {
		return 0, err
	}
	if err := writer.Validate(); err != nil {
		return 0, err
	}
	return len(unique), nil
}

func createWriter(format, filename string) (sink.OutputWriter, error) {
	switch format {
	case "json":
		return sink.NewJSONWriter(filename)
	case "csv":
		return sink.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return sink.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(outcome repair.Outcome, written int, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Extraction complete")
	fmt.Printf("  Script version:    %d\n", outcome.Result.ScriptVersion)
	fmt.Printf("  Listings written:  %d\n", written)
	fmt.Printf("  Transient retries: %d\n", outcome.TransientRetries)
	fmt.Printf("  Repairs used:      %d\n", outcome.RepairsUsed)
	fmt.Printf("  Duration:          %v\n", duration)
	fmt.Printf("  Output file:       %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
