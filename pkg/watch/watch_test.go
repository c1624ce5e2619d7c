package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/inci-scraper/pkg/pipeline"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"invalid", 0, true},
		{"", 0, true},
		{"0s", 0, true},
		{"xd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestStateManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watch.yaml")
	sm := NewStateManager(path)

	if err := sm.Load(); err != nil {
		t.Fatalf("Load() on missing file failed: %v", err)
	}
	now := time.Now()
	if !sm.ShouldRun(time.Hour, now) {
		t.Error("ShouldRun() should be true before any run")
	}
	if got := sm.NextRunTime(time.Hour, now); !got.Equal(now) {
		t.Errorf("NextRunTime() = %v, want now", got)
	}

	sm.Record(RunRecord{StartedAt: now, Duration: 90 * time.Second, Success: true, ProductsTotal: 12})
	if sm.ShouldRun(time.Hour, now.Add(30*time.Minute)) {
		t.Error("ShouldRun() should be false within the interval")
	}
	if !sm.ShouldRun(time.Hour, now.Add(time.Hour)) {
		t.Error("ShouldRun() should be true once the interval has passed")
	}

	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file missing after Save(): %v", err)
	}

	sm2 := NewStateManager(path)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}
	last, ok := sm2.LastRun()
	if !ok {
		t.Fatal("LastRun() should exist after Load()")
	}
	if last.ProductsTotal != 12 || last.Duration != 90*time.Second || !last.Success {
		t.Errorf("loaded run = %+v", last)
	}
	if sm2.RunCount() != 1 {
		t.Errorf("RunCount() = %d, want 1", sm2.RunCount())
	}
}

func TestStateManagerCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	if err := os.WriteFile(path, []byte("run_count: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewStateManager(path).Load(); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestSchedulerRunsWhenDueAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	var runs atomic.Int32
	run := func(ctx context.Context) orchestrate.RunSummary {
		runs.Add(1)
		return orchestrate.RunSummary{
			Stages: []pipeline.StageResult{{Stage: models.StageDetails, Failed: 2}},
			After:  models.WorkloadSummary{BrandsTotal: 3, ProductsTotal: 9, IngredientsTotal: 40},
		}
	}
	s := newScheduler(time.Hour, NewStateManager(path), run, testLogger())

	ctx := context.Background()
	s.runIfDue(ctx)
	s.runIfDue(ctx)
	if got := runs.Load(); got != 1 {
		t.Fatalf("run called %d times, want 1", got)
	}

	loaded := NewStateManager(path)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	last, ok := loaded.LastRun()
	if !ok {
		t.Fatal("run not persisted")
	}
	if !last.Success || last.FailedUnits != 2 || last.IngredientsTotal != 40 {
		t.Errorf("recorded run = %+v", last)
	}

	// An hour later the next run is due.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	s.runIfDue(ctx)
	if got := runs.Load(); got != 2 {
		t.Errorf("run called %d times after interval, want 2", got)
	}
}

func TestSchedulerRecordsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	run := func(ctx context.Context) orchestrate.RunSummary {
		return orchestrate.RunSummary{Err: errors.New("database error: disk full")}
	}
	s := newScheduler(time.Hour, NewStateManager(path), run, testLogger())
	s.runIfDue(context.Background())

	last, ok := s.state.LastRun()
	if !ok || last.Success {
		t.Fatalf("failure not recorded: %+v", last)
	}
	if last.ErrorMessage != "database error: disk full" {
		t.Errorf("ErrorMessage = %q", last.ErrorMessage)
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	run := func(ctx context.Context) orchestrate.RunSummary {
		runs.Add(1)
		return orchestrate.RunSummary{}
	}
	s := newScheduler(time.Hour, NewStateManager(path), run, testLogger())
	s.tick = func() time.Duration { return 5 * time.Millisecond }

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if got := runs.Load(); got != 1 {
		t.Errorf("run called %d times, want 1 (interval not elapsed)", got)
	}
}

func TestTickInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		5 * time.Minute:    time.Minute,
		time.Hour:          6 * time.Minute,
		7 * 24 * time.Hour: 10 * time.Minute,
	}
	for interval, want := range cases {
		s := newScheduler(interval, NewStateManager(""), nil, testLogger())
		if got := s.tickInterval(); got != want {
			t.Errorf("tickInterval(%v) = %v, want %v", interval, got, want)
		}
	}
}
