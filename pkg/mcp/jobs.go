package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a run job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// JobRequest describes the run a job performs
type JobRequest struct {
	Stage      string `json:"stage"`
	Rescan     bool   `json:"rescan"`
	SampleData bool   `json:"sample_data"`
}

// Job represents a background scrape run
type Job struct {
	ID           string     `json:"id"`
	Request      JobRequest `json:"request"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at,omitempty"`
	CurrentStage string     `json:"current_stage,omitempty"`
	Processed    int        `json:"units_processed"`
	Failed       int        `json:"units_failed"`
	ErrorMessage string     `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks background runs. Only one run may be active at a time
// since every run writes the same database.
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	active string // id of the pending or running job
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*Job)}
}

// CreateJob registers a new job. If a job is already active it is returned
// instead and created is false.
func (m *JobManager) CreateJob(req JobRequest) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.jobs[m.active]; existing != nil && existing.Status.active() {
		return existing, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job
	m.active = job.ID
	return job, true
}

// GetJob returns a copy of the job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// ActiveJob returns a copy of the pending or running job, or nil
func (m *JobManager) ActiveJob() *Job {
	m.mu.RLock()
	id := m.active
	m.mu.RUnlock()
	if job := m.GetJob(id); job != nil && job.Status.active() {
		return job
	}
	return nil
}

// UpdateStatus moves a job to status. Terminal statuses release the active slot.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !status.active() {
		job.CompletedAt = time.Now()
		job.CurrentStage = ""
		job.cancel()
		if m.active == jobID {
			m.active = ""
		}
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// UpdateProgress records the stage being run and the units finished so far
func (m *JobManager) UpdateProgress(jobID, stage string, processed, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.CurrentStage = stage
		job.Processed = processed
		job.Failed = failed
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	if m.active == jobID {
		m.active = ""
	}
	return true
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Status.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.active = ""
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// GetContext returns the job's context, cancelled when the job is cancelled
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
