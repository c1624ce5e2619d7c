package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/fetch"
	"github.com/Sriram-PR/inci-scraper/pkg/media"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/pipeline"
	"github.com/Sriram-PR/inci-scraper/pkg/resolver"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// Sample-data limits
const (
	samplePages            = 1
	sampleBrands           = 1
	sampleProductsPerBrand = 2
)

const cacheGCInterval = 10 * time.Minute

// RunOptions selects what a run does. Limits left at zero fall back to the
// configuration.
type RunOptions struct {
	Stages     []models.StageName // empty means every stage
	Rescan     bool
	SampleData bool
	NoResolver bool
}

// Deps overrides collaborators, mainly for tests. Nil fields are built from
// the configuration.
type Deps struct {
	Resolver pipeline.Resolver
	Media    pipeline.MediaStore
}

// RunSummary is the outcome of one run.
type RunSummary struct {
	Stages   []pipeline.StageResult
	Before   models.WorkloadSummary
	After    models.WorkloadSummary
	Duration time.Duration
	Err      error
}

// Progress is a snapshot of a running orchestrator.
type Progress struct {
	CurrentStage models.StageName
	Completed    []pipeline.StageResult
	IsRunning    bool
}

// Orchestrator owns every shared resource of a run (store, network client,
// resolver, media store) and drives the stages in order.
type Orchestrator struct {
	cfg  *config.AppConfig
	opts RunOptions
	log  *logrus.Entry

	store    *storage.Store
	client   *fetch.Client
	cache    *storage.RegistryCache
	resolver pipeline.Resolver
	closer   interface{ Close() error }
	media    pipeline.MediaStore

	mu       sync.Mutex
	progress Progress
}

// New opens the store and builds the network stack. Callers must Close the
// orchestrator.
func New(ctx context.Context, cfg *config.AppConfig, opts RunOptions, deps Deps, log *logrus.Entry) (*Orchestrator, error) {
	if len(opts.Stages) == 0 {
		opts.Stages = models.AllStages
	}
	store, err := storage.Open(ctx, cfg.DBPath, log.WithField("component", "storage"))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		log:    log,
		store:  store,
		client: fetch.New(cfg, log.WithField("component", "fetch")),
	}

	o.media = deps.Media
	if o.media == nil && !cfg.SkipImages {
		o.media = media.New(cfg.ImageDir, o.client, log.WithField("component", "media"))
	}

	o.resolver = deps.Resolver
	if o.resolver == nil && !opts.NoResolver && cfg.Resolver.IsEnabled() && o.needs(models.StageDetails) {
		if err := o.openResolver(); err != nil {
			store.Close()
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) openResolver() error {
	cache, err := storage.OpenRegistryCache(o.cfg.CacheDir, o.cfg.Resolver.CacheTTL, o.log.WithField("component", "registry_cache"))
	if err != nil {
		return err
	}
	browser := resolver.NewChromeBrowser(resolver.ChromeOptions{
		Headless:  o.cfg.Resolver.IsHeadless(),
		UserAgent: o.cfg.UserAgent,
		ExecPath:  o.cfg.Resolver.ChromeExecPath,
	}, o.log)
	r := resolver.New(browser, cache, o.cfg.Resolver, o.log.WithField("component", "resolver"))
	o.cache = cache
	o.resolver = r
	o.closer = r
	return nil
}

func (o *Orchestrator) needs(stage models.StageName) bool {
	for _, s := range o.opts.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// pipelineOptions merges configuration limits with the run's options.
func (o *Orchestrator) pipelineOptions() pipeline.Options {
	p := pipeline.Options{
		BaseURL:             o.cfg.BaseURL,
		Rescan:              o.opts.Rescan,
		Workers:             o.cfg.MaxWorkers,
		MaxPages:            o.cfg.MaxPages,
		MaxBrands:           o.cfg.MaxBrands,
		MaxProductsPerBrand: o.cfg.MaxProductsPerBrand,
		SkipImages:          o.cfg.SkipImages,
		DiscoverPages:       !o.cfg.SkipPageDiscovery,
	}
	if o.opts.SampleData {
		p.DiscoverPages = false
		p.MaxPages = samplePages
		p.MaxBrands = sampleBrands
		p.MaxProductsPerBrand = sampleProductsPerBrand
	}
	return p
}

// Run executes the selected stages in order: brands, products, details. A
// stage error (database failure or cancellation) stops the run.
func (o *Orchestrator) Run(ctx context.Context) (summary RunSummary) {
	startTime := time.Now()
	defer func() {
		summary.Duration = time.Since(startTime)
		o.mu.Lock()
		o.progress.IsRunning = false
		o.progress.CurrentStage = ""
		o.mu.Unlock()
		o.logSummary(summary)
	}()

	o.mu.Lock()
	o.progress = Progress{IsRunning: true}
	o.mu.Unlock()

	if o.cache != nil {
		gcCtx, stopGC := context.WithCancel(ctx)
		defer stopGC()
		go o.cache.RunGC(gcCtx, cacheGCInterval)
	}

	h, err := o.store.Acquire(ctx)
	if err != nil {
		summary.Err = err
		return summary
	}
	defer h.Release()

	if o.opts.SampleData {
		o.log.Info("Sample-data mode: resetting dataset and limiting the crawl")
		if err := h.ResetDataset(ctx); err != nil {
			summary.Err = err
			return summary
		}
	}
	if err := h.SetMetadata(ctx, storage.KeyLastRunStartedAt, timestamp()); err != nil {
		summary.Err = err
		return summary
	}

	if summary.Before, err = h.WorkloadSummary(ctx); err != nil {
		summary.Err = err
		return summary
	}
	o.logWorkload(summary.Before)

	opts := o.pipelineOptions()
	for _, stage := range o.opts.Stages {
		o.mu.Lock()
		o.progress.CurrentStage = stage
		o.mu.Unlock()

		res, err := o.runStage(ctx, h, stage, opts)
		summary.Stages = append(summary.Stages, res)
		o.mu.Lock()
		o.progress.Completed = append(o.progress.Completed, res)
		o.mu.Unlock()
		if err != nil {
			summary.Err = fmt.Errorf("%s stage: %w", stage, err)
			return summary
		}
	}

	if summary.After, err = h.WorkloadSummary(ctx); err != nil {
		summary.Err = err
		return summary
	}
	if err := h.SetMetadata(ctx, storage.KeyLastRunCompletedAt, timestamp()); err != nil {
		summary.Err = err
	}
	return summary
}

func (o *Orchestrator) runStage(ctx context.Context, h *storage.Handle, stage models.StageName, opts pipeline.Options) (pipeline.StageResult, error) {
	o.log.Infof("Starting %s stage", stage)
	switch stage {
	case models.StageBrands:
		return pipeline.NewBrandStage(h, o.client, opts, o.log).Run(ctx)
	case models.StageProducts:
		return pipeline.NewProductStage(o.store, o.client, opts, o.log).Run(ctx)
	case models.StageDetails:
		return pipeline.NewDetailStage(o.store, o.client, o.resolver, o.media, opts, o.log).Run(ctx)
	}
	return pipeline.StageResult{Stage: stage}, fmt.Errorf("%w: unknown stage %q", utils.ErrConfigValidation, stage)
}

// Workload reads the current workload summary.
func (o *Orchestrator) Workload(ctx context.Context) (models.WorkloadSummary, error) {
	h, err := o.store.Acquire(ctx)
	if err != nil {
		return models.WorkloadSummary{}, err
	}
	defer h.Release()
	return h.WorkloadSummary(ctx)
}

// GetProgress returns a snapshot of the run.
func (o *Orchestrator) GetProgress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.progress
	p.Completed = append([]pipeline.StageResult(nil), o.progress.Completed...)
	return p
}

// Close releases the resolver, the registry cache and the store.
func (o *Orchestrator) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.closer != nil {
		keep(o.closer.Close())
	}
	if o.cache != nil {
		keep(o.cache.Close())
	}
	keep(o.store.Close())
	return firstErr
}

func (o *Orchestrator) logWorkload(w models.WorkloadSummary) {
	pages := "unknown"
	if w.BrandPagesRemaining >= 0 {
		pages = fmt.Sprint(w.BrandPagesRemaining)
	}
	o.log.Infof("Workload: %d brand(s) (%d pending, listing complete=%t, pages remaining=%s), %d product(s) (%d pending details), %d ingredient(s)",
		w.BrandsTotal, w.BrandsPending, w.BrandsComplete, pages,
		w.ProductsTotal, w.ProductsPendingDetails, w.IngredientsTotal)
	if !w.HasWork() && !o.opts.Rescan {
		o.log.Info("No pending work recorded; stages will only pick up newly discovered items")
	}
}

// logSummary logs the per-stage results of a run
func (o *Orchestrator) logSummary(s RunSummary) {
	o.log.Info("============================================")
	o.log.Infof("Run finished in %v", s.Duration.Round(time.Millisecond))
	o.log.Info("Stage Results:")
	for _, r := range s.Stages {
		o.log.Infof("  %s: %d unit(s), %d processed, %d failed, %d record(s) in %v",
			r.Stage, r.Units, r.Processed, r.Failed, r.Records, r.Duration.Round(time.Millisecond))
	}
	o.log.Info("--------------------------------------------")
	if s.Err != nil {
		o.log.Errorf("Run aborted [%s]: %v", utils.CategorizeError(s.Err), s.Err)
	} else {
		o.log.Infof("Totals: %d brand(s), %d product(s), %d ingredient(s)",
			s.After.BrandsTotal, s.After.ProductsTotal, s.After.IngredientsTotal)
	}
	o.log.Info("============================================")
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
