package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestJob(t *testing.T, jm *JobManager, req JobRequest) *Job {
	t.Helper()
	job, created := jm.CreateJob(req)
	require.True(t, created)
	require.NotNil(t, job)
	return job
}

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()
	require.NotNil(t, jm)
	assert.Empty(t, jm.ListJobs())
	assert.Nil(t, jm.ActiveJob())
}

func TestCreateJob(t *testing.T) {
	t.Run("new job fields correct", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobRequest{Stage: "details", Rescan: true})

		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "details", job.Request.Stage)
		assert.True(t, job.Request.Rescan)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.False(t, job.StartedAt.IsZero())
		assert.True(t, job.CompletedAt.IsZero())
		assert.Zero(t, job.Processed)
		assert.Empty(t, job.ErrorMessage)
	})

	t.Run("active job is returned instead of a second one", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, JobRequest{Stage: "all"})
		job2, created := jm.CreateJob(JobRequest{Stage: "brands"})
		assert.False(t, created)
		assert.Equal(t, job1.ID, job2.ID)
	})

	t.Run("new job allowed after completion", func(t *testing.T) {
		jm := NewJobManager()
		job1 := createTestJob(t, jm, JobRequest{})
		jm.UpdateStatus(job1.ID, JobStatusCompleted, "")

		job2 := createTestJob(t, jm, JobRequest{})
		assert.NotEqual(t, job1.ID, job2.ID)
	})
}

func TestGetJob(t *testing.T) {
	jm := NewJobManager()

	t.Run("exists returns a copy", func(t *testing.T) {
		job := createTestJob(t, jm, JobRequest{})
		got := jm.GetJob(job.ID)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)

		got.Status = JobStatusFailed
		assert.Equal(t, JobStatusPending, jm.GetJob(job.ID).Status)
	})

	t.Run("missing returns nil", func(t *testing.T) {
		assert.Nil(t, jm.GetJob("nonexistent-id"))
	})
}

func TestActiveJob(t *testing.T) {
	tests := []struct {
		name   string
		finish func(jm *JobManager, id string)
		active bool
	}{
		{"pending", func(*JobManager, string) {}, true},
		{"running", func(jm *JobManager, id string) { jm.UpdateStatus(id, JobStatusRunning, "") }, true},
		{"completed", func(jm *JobManager, id string) { jm.UpdateStatus(id, JobStatusCompleted, "") }, false},
		{"failed", func(jm *JobManager, id string) { jm.UpdateStatus(id, JobStatusFailed, "boom") }, false},
		{"cancelled", func(jm *JobManager, id string) { jm.CancelJob(id) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			job := createTestJob(t, jm, JobRequest{})
			tt.finish(jm, job.ID)
			assert.Equal(t, tt.active, jm.ActiveJob() != nil)
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	t.Run("to failed sets ErrorMessage and CompletedAt", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobRequest{})
		jm.UpdateStatus(job.ID, JobStatusFailed, "database error")

		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusFailed, got.Status)
		assert.Equal(t, "database error", got.ErrorMessage)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("cancelled job stays cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobRequest{})
		require.True(t, jm.CancelJob(job.ID))
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.Equal(t, JobStatusCancelled, jm.GetJob(job.ID).Status)
	})

	t.Run("nonexistent is no-op", func(t *testing.T) {
		jm := NewJobManager()
		jm.UpdateStatus("fake-id", JobStatusRunning, "")
	})
}

func TestUpdateProgress(t *testing.T) {
	jm := NewJobManager()
	job := createTestJob(t, jm, JobRequest{})
	jm.UpdateProgress(job.ID, "products", 42, 3)

	got := jm.GetJob(job.ID)
	assert.Equal(t, "products", got.CurrentStage)
	assert.Equal(t, 42, got.Processed)
	assert.Equal(t, 3, got.Failed)

	jm.UpdateProgress("fake-id", "brands", 1, 2)
}

func TestCancelJob(t *testing.T) {
	t.Run("running job cancelled", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobRequest{})
		jm.UpdateStatus(job.ID, JobStatusRunning, "")

		assert.True(t, jm.CancelJob(job.ID))
		got := jm.GetJob(job.ID)
		assert.Equal(t, JobStatusCancelled, got.Status)
		assert.False(t, got.CompletedAt.IsZero())
		assert.Error(t, jm.GetContext(job.ID).Err())
	})

	t.Run("completed job not cancellable", func(t *testing.T) {
		jm := NewJobManager()
		job := createTestJob(t, jm, JobRequest{})
		jm.UpdateStatus(job.ID, JobStatusCompleted, "")
		assert.False(t, jm.CancelJob(job.ID))
	})

	t.Run("nonexistent returns false", func(t *testing.T) {
		assert.False(t, NewJobManager().CancelJob("nope"))
	})
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	done := createTestJob(t, jm, JobRequest{})
	jm.UpdateStatus(done.ID, JobStatusCompleted, "")
	running := createTestJob(t, jm, JobRequest{})

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, jm.GetJob(running.ID).Status)
	assert.Equal(t, JobStatusCompleted, jm.GetJob(done.ID).Status)
	assert.Len(t, jm.ListJobs(), 2)

	next := createTestJob(t, jm, JobRequest{})
	assert.NotEqual(t, running.ID, next.ID)
}

func TestGetContext(t *testing.T) {
	jm := NewJobManager()
	job := createTestJob(t, jm, JobRequest{})
	assert.NoError(t, jm.GetContext(job.ID).Err())
	assert.Equal(t, context.Background(), jm.GetContext("nope"))
}
