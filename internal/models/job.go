package models

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job status values.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job represents an async operation (health sweep, batch deploy).
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"` // "health-sweep", "deploy-batch"
	InstanceID string     `json:"instance_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Context returns the job's context; it is cancelled by Cancel.
func (j *Job) Context() context.Context {
	if j.ctx == nil {
		return context.Background()
	}
	return j.ctx
}

// AppendLog adds a log line to the job output.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = append(j.Output, line)
}

// LogsSince returns log lines starting from the given index.
func (j *Job) LogsSince(offset int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset >= len(j.Output) {
		return nil
	}
	lines := make([]string, len(j.Output)-offset)
	copy(lines, j.Output[offset:])
	return lines
}

// State returns the current status and error under the lock.
func (j *Job) State() (string, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status, j.Error
}

// Done reports whether the job has finished in any way.
func (j *Job) Done() bool {
	status, _ := j.State()
	return status != JobRunning
}

// Complete marks the job as completed.
func (j *Job) Complete() {
	j.finish(JobCompleted, "")
}

// Fail marks the job as failed with an error message.
func (j *Job) Fail(err string) {
	j.finish(JobFailed, err)
}

// Cancel stops a running job. Work checks the job context between steps.
func (j *Job) Cancel() {
	j.finish(JobCancelled, "cancelled by user")
}

func (j *Job) finish(status, err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != JobRunning {
		return
	}
	j.Status = status
	j.Error = err
	now := time.Now()
	j.FinishedAt = &now
	if j.cancel != nil {
		j.cancel()
	}
}

// JobStore is an in-memory thread-safe store for jobs.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new running job, assigning it a UUID.
func (s *JobStore) Create(jobType, instanceID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		InstanceID: instanceID,
		Status:     JobRunning,
		StartedAt:  time.Now(),
		Output:     []string{},
		ctx:        ctx,
		cancel:     cancel,
	}
	s.jobs[j.ID] = j
	return j
}

// Get returns a job by ID.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// List returns all jobs, most recent first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	// Sort by started_at descending
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].StartedAt.After(result[i].StartedAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result
}
