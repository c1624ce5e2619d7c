package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
	"github.com/Sriram-PR/inci-scraper/pkg/watch"
)

const version = "1.0.0"

const shutdownGrace = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scrape":
		runScrape(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("inci-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `inci-scraper - Cosmetic ingredient catalogue scraper

Usage:
  inci-scraper <command> [options]

Commands:
  scrape      Run the brand, product and detail stages
  status      Show stored totals and pending work
  watch       Rescan the catalogue on a schedule
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'inci-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file. An empty path yields the
// built-in defaults.
func loadConfig(path string) (*config.AppConfig, error) {
	var cfg config.AppConfig
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}
	return log
}

// loadAndValidateConfig loads the config file, applies defaults and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	if configFile != "" {
		log.Infof("Loading configuration from %s", configFile)
	}
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// signalContext returns a context cancelled by the first SIGINT/SIGTERM.
// A second signal, or a stalled shutdown, exits the process.
func signalContext(log *logrus.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// scrapeFlags holds the scrape subcommand's overrides
type scrapeFlags struct {
	configFile          string
	dbPath              string
	logLevel            string
	stage               string
	maxWorkers          int
	maxPages            int
	maxBrands           int
	maxProductsPerBrand int
	rescan              bool
	skipImages          bool
	sampleData          bool
	noResolver          bool
}

// runScrape handles the scrape subcommand
func runScrape(args []string) {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	var f scrapeFlags
	fs.StringVar(&f.configFile, "config", "", "Path to config file (built-in defaults if empty)")
	fs.StringVar(&f.dbPath, "db-path", "", "SQLite database path (overrides config)")
	fs.StringVar(&f.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&f.stage, "stage", "all", "Stage to run (all, brands, products, details)")
	fs.IntVar(&f.maxWorkers, "max-workers", 0, "Concurrent workers per stage (overrides config)")
	fs.IntVar(&f.maxPages, "max-pages", 0, "Brand listing pages per run, 0 = config value")
	fs.IntVar(&f.maxBrands, "max-brands", 0, "Brands whose products are listed per run, 0 = config value")
	fs.IntVar(&f.maxProductsPerBrand, "max-products-per-brand", 0, "Products kept per brand, 0 = config value")
	fs.BoolVar(&f.rescan, "rescan", false, "Revisit completed brands, listings and products")
	fs.BoolVar(&f.skipImages, "skip-images", false, "Do not download product images")
	fs.BoolVar(&f.sampleData, "sample-data", false, "Reset the dataset and scrape a small sample")
	fs.BoolVar(&f.noResolver, "no-resolver", false, "Skip registry cross-reference lookups")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inci-scraper scrape [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  inci-scraper scrape -config config.yaml\n")
		fmt.Fprintf(os.Stderr, "  inci-scraper scrape -stage details -no-resolver\n")
		fmt.Fprintf(os.Stderr, "  inci-scraper scrape -sample-data -db-path ./data/sample.db\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doScrape(f, os.Stderr))
}

// applyScrapeOverrides copies non-zero flag values over the configuration.
func applyScrapeOverrides(cfg *config.AppConfig, f scrapeFlags) {
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.maxWorkers > 0 {
		cfg.MaxWorkers = f.maxWorkers
	}
	if f.maxPages > 0 {
		cfg.MaxPages = f.maxPages
	}
	if f.maxBrands > 0 {
		cfg.MaxBrands = f.maxBrands
	}
	if f.maxProductsPerBrand > 0 {
		cfg.MaxProductsPerBrand = f.maxProductsPerBrand
	}
	if f.skipImages {
		cfg.SkipImages = true
	}
}

// doScrape runs one scrape and returns the exit code.
func doScrape(f scrapeFlags, logOut io.Writer) int {
	log := setupLogger(f.logLevel, logOut)

	stages, ok := models.ParseStageName(f.stage)
	if !ok {
		log.Errorf("Unknown stage '%s' (expected all, brands, products or details)", f.stage)
		return 1
	}
	appCfg, err := loadAndValidateConfig(f.configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	applyScrapeOverrides(appCfg, f)
	logAppConfig(appCfg, log)

	ctx, stop := signalContext(log)
	defer stop()

	opts := orchestrate.RunOptions{
		Stages:     stages,
		Rescan:     f.rescan,
		SampleData: f.sampleData,
		NoResolver: f.noResolver,
	}
	orch, err := orchestrate.New(ctx, appCfg, opts, orchestrate.Deps{}, log.WithField("component", "scrape"))
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	defer func() {
		if err := orch.Close(); err != nil {
			log.Warnf("Closing resources: %v", err)
		}
	}()

	summary := orch.Run(ctx)
	switch {
	case summary.Err == nil:
		log.Info("Scrape completed successfully.")
		return 0
	case errors.Is(summary.Err, context.Canceled):
		log.Warn("Scrape cancelled gracefully.")
		return 1
	default:
		log.Errorf("Scrape finished with error: %v", summary.Err)
		return 1
	}
}

// runStatus handles the status subcommand
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults if empty)")
	dbPath := fs.String("db-path", "", "SQLite database path (overrides config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inci-scraper status [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doStatus(*configFile, *dbPath, os.Stdout, os.Stderr))
}

// doStatus prints stored totals and pending work. Returns the exit code.
func doStatus(configPath, dbPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if dbPath != "" {
		appCfg.DBPath = dbPath
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	log := setupLogger("warn", stderr)
	ctx := context.Background()
	store, err := storage.Open(ctx, appCfg.DBPath, log.WithField("component", "storage"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()
	h, err := store.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer h.Release()

	w, err := h.WorkloadSummary(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Database: %s\n\n", appCfg.DBPath)
	pages := "unknown"
	if w.BrandPagesRemaining >= 0 {
		pages = fmt.Sprintf("%d", w.BrandPagesRemaining)
	}
	fmt.Fprintf(stdout, "  Brands:       %d (complete: %t, listing pages remaining: %s)\n", w.BrandsTotal, w.BrandsComplete, pages)
	fmt.Fprintf(stdout, "  Pending:      %d brands awaiting products\n", w.BrandsPending)
	fmt.Fprintf(stdout, "  Products:     %d (%d awaiting details)\n", w.ProductsTotal, w.ProductsPendingDetails)
	fmt.Fprintf(stdout, "  Ingredients:  %d\n", w.IngredientsTotal)
	fmt.Fprintf(stdout, "  Functions:    %d\n", w.FunctionsTotal)
	fmt.Fprintf(stdout, "  Free tags:    %d\n", w.FreeTagsTotal)
	for _, m := range []struct{ label, key string }{
		{"Last run started:  ", storage.KeyLastRunStartedAt},
		{"Last run completed:", storage.KeyLastRunCompletedAt},
	} {
		if v, ok, err := h.GetMetadata(ctx, m.key); err == nil && ok {
			fmt.Fprintf(stdout, "  %s %s\n", m.label, v)
		}
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inci-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if appCfg.Watch.Interval != "" {
		if _, err := watch.ParseInterval(appCfg.Watch.Interval); err != nil {
			fmt.Fprintf(stderr, "ERROR: watch.interval: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "OK: base_url %s, database %s\n", appCfg.BaseURL, appCfg.DBPath)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults if empty)")
	interval := fs.String("interval", "", "Rescan interval (e.g., 30m, 1h, 24h, 7d); default from config (7d)")
	stateFile := fs.String("state-file", "", "Watch state file (overrides config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: inci-scraper watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  inci-scraper watch -interval 24h\n")
		fmt.Fprintf(os.Stderr, "  inci-scraper watch -config config.yaml -interval 7d\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doWatch(*configFile, *interval, *stateFile, *logLevel))
}

// doWatch runs the watch scheduler until a signal arrives.
func doWatch(configFile, intervalStr, stateFile, logLevel string) int {
	log := setupLogger(logLevel, os.Stderr)
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	if stateFile != "" {
		appCfg.Watch.StateFile = stateFile
	}
	if intervalStr == "" {
		intervalStr = appCfg.Watch.Interval
	}
	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		log.Errorf("Invalid interval: %v", err)
		return 1
	}

	ctx, stop := signalContext(log)
	defer stop()

	scheduler := watch.NewScheduler(appCfg, interval, log.WithField("component", "watch"))
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}
	log.Info("Watch mode stopped")
	return 0
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: BaseURL:%s, Alternates:%d, DB:%s, Workers:%d, MaxReqPerHost:%d",
		appCfg.BaseURL, len(appCfg.AlternateBaseURLs), appCfg.DBPath, appCfg.MaxWorkers, appCfg.MaxRequestsPerHost)
	log.Infof("Config Limits: MaxPages:%d, MaxBrands:%d, MaxProductsPerBrand:%d, BatchSize:%d",
		appCfg.MaxPages, appCfg.MaxBrands, appCfg.MaxProductsPerBrand, appCfg.BatchSize)
	log.Infof("Config Delays: Min:%v, Max:%v, Factor:%.2f, Retries:%d (initial %v, max %v)",
		appCfg.MinDelay, appCfg.MaxDelay, appCfg.AdaptiveFactor, appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Config Images: Skip:%t, Dir:%s", appCfg.SkipImages, appCfg.ImageDir)
	log.Infof("Config Resolver: Enabled:%t, Headless:%t, CacheDir:%s, CacheTTL:%v",
		appCfg.Resolver.IsEnabled(), appCfg.Resolver.IsHeadless(), appCfg.CacheDir, appCfg.Resolver.CacheTTL)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns,
		appCfg.HTTPClientSettings.MaxIdleConnsPerHost, appCfg.HTTPClientSettings.IdleConnTimeout)
}
