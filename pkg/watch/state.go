package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// RunRecord describes the most recent revalidation run
type RunRecord struct {
	StartedAt        time.Time     `yaml:"started_at"`
	Duration         time.Duration `yaml:"duration"`
	Success          bool          `yaml:"success"`
	BrandsTotal      int           `yaml:"brands_total"`
	ProductsTotal    int           `yaml:"products_total"`
	IngredientsTotal int           `yaml:"ingredients_total"`
	FailedUnits      int           `yaml:"failed_units"`
	ErrorMessage     string        `yaml:"error_message,omitempty"`
}

// State is the persisted scheduler state
type State struct {
	RunCount  int        `yaml:"run_count"`
	LastRun   *RunRecord `yaml:"last_run,omitempty"`
	UpdatedAt time.Time  `yaml:"updated_at"`
}

// StateManager loads and saves the scheduler state as YAML
type StateManager struct {
	path  string
	state State
	mu    sync.RWMutex
}

// NewStateManager creates a manager for the state file at path
func NewStateManager(path string) *StateManager {
	return &StateManager{path: path}
}

// Load reads the state file. A missing file leaves the state empty.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = State{}
			return nil
		}
		return fmt.Errorf("%w: read watch state: %w", utils.ErrFilesystem, err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("%w: watch state %s: %w", utils.ErrParsing, m.path, err)
	}
	m.state = st
	return nil
}

// Save writes the state file, creating its directory if needed
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %w", utils.ErrFilesystem, err)
	}
	data, err := yaml.Marshal(&m.state)
	if err != nil {
		return fmt.Errorf("marshal watch state: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write watch state: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("%w: replace watch state: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Record stores rec as the latest run
func (m *StateManager) Record(rec RunRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RunCount++
	m.state.LastRun = &rec
}

// LastRun returns the latest run, if any
func (m *StateManager) LastRun() (RunRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.LastRun == nil {
		return RunRecord{}, false
	}
	return *m.state.LastRun, true
}

// RunCount returns how many runs have been recorded
func (m *StateManager) RunCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.RunCount
}

// ShouldRun reports whether interval has passed since the last run started
func (m *StateManager) ShouldRun(interval time.Duration, now time.Time) bool {
	last, ok := m.LastRun()
	if !ok {
		return true
	}
	return now.Sub(last.StartedAt) >= interval
}

// NextRunTime returns when the next run is due
func (m *StateManager) NextRunTime(interval time.Duration, now time.Time) time.Time {
	last, ok := m.LastRun()
	if !ok {
		return now
	}
	return last.StartedAt.Add(interval)
}
