// Package watch repeats rescan runs on a fixed interval, persisting the
// outcome of each run so restarts keep the schedule.
package watch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
)

const (
	minTick = time.Minute
	maxTick = 10 * time.Minute
)

// RunFunc performs one revalidation run
type RunFunc func(ctx context.Context) orchestrate.RunSummary

// Scheduler runs a rescan of every stage whenever the interval has elapsed
type Scheduler struct {
	interval time.Duration
	state    *StateManager
	run      RunFunc
	log      *logrus.Entry

	tick func() time.Duration
	now  func() time.Time
}

// NewScheduler creates a scheduler whose runs rescan the whole dataset
func NewScheduler(cfg *config.AppConfig, interval time.Duration, log *logrus.Entry) *Scheduler {
	run := func(ctx context.Context) orchestrate.RunSummary {
		o, err := orchestrate.New(ctx, cfg, orchestrate.RunOptions{Rescan: true}, orchestrate.Deps{}, log)
		if err != nil {
			return orchestrate.RunSummary{Err: err}
		}
		defer func() {
			if err := o.Close(); err != nil {
				log.Warnf("Closing run resources: %v", err)
			}
		}()
		return o.Run(ctx)
	}
	return newScheduler(interval, NewStateManager(cfg.Watch.StateFile), run, log)
}

func newScheduler(interval time.Duration, state *StateManager, run RunFunc, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		interval: interval,
		state:    state,
		run:      run,
		log:      log.WithField("component", "watch"),
		now:      time.Now,
	}
	s.tick = s.tickInterval
	return s
}

// Run blocks until ctx is cancelled, starting a run whenever one is due.
// Runs never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.state.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}
	s.log.Infof("Starting watch mode with interval %s", FormatInterval(s.interval))
	s.logSchedule()

	s.runIfDue(ctx)

	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

func (s *Scheduler) runIfDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.state.ShouldRun(s.interval, s.now()) {
		return
	}

	started := s.now()
	s.log.Info("Starting scheduled rescan")
	summary := s.run(ctx)
	if ctx.Err() != nil {
		s.log.Info("Scheduled rescan interrupted, not recording it")
		return
	}

	rec := RunRecord{
		StartedAt:        started,
		Duration:         s.now().Sub(started),
		Success:          summary.Err == nil,
		BrandsTotal:      summary.After.BrandsTotal,
		ProductsTotal:    summary.After.ProductsTotal,
		IngredientsTotal: summary.After.IngredientsTotal,
	}
	for _, st := range summary.Stages {
		rec.FailedUnits += st.Failed
	}
	if summary.Err != nil {
		rec.ErrorMessage = summary.Err.Error()
	}
	s.state.Record(rec)
	if err := s.state.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
}

// tickInterval is a tenth of the interval, clamped to [1m, 10m]
func (s *Scheduler) tickInterval() time.Duration {
	d := s.interval / 10
	if d < minTick {
		d = minTick
	}
	if d > maxTick {
		d = maxTick
	}
	return d
}

func (s *Scheduler) logSchedule() {
	last, ok := s.state.LastRun()
	if !ok {
		s.log.Info("No previous run recorded, running immediately")
		return
	}
	status := "success"
	if !last.Success {
		status = "failed"
	}
	s.log.Infof("Last run %s (%s, %d products, %d ingredients), next run %s",
		last.StartedAt.Format(time.RFC3339), status, last.ProductsTotal, last.IngredientsTotal,
		s.state.NextRunTime(s.interval, s.now()).Format(time.RFC3339))
}

func (s *Scheduler) logNextRun() {
	next := s.state.NextRunTime(s.interval, s.now())
	until := next.Sub(s.now())
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next rescan in %v (at %s)", until.Round(time.Second), next.Format("2006-01-02 15:04:05"))
}

// FormatInterval renders d using the largest units, e.g. "1d12h" or "90s"
func FormatInterval(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h, m := int(d.Hours()), int(d.Minutes())%60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days, h := int(d.Hours())/24, int(d.Hours())%24
	if h > 0 {
		return fmt.Sprintf("%dd%dh", days, h)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a Go duration with an optional leading day count
// ("7d", "1d12h").
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}
	days, rest, ok := strings.Cut(s, "d")
	n, err := strconv.Atoi(days)
	if !ok || err != nil || n < 0 {
		return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
	}
	d := time.Duration(n) * 24 * time.Hour
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %s", s)
		}
		d += extra
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive: %s", s)
	}
	return d, nil
}
