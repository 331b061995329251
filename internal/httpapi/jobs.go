package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/reporag/pkg/types"
)

// Job states
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobFailed   = "failed"
)

// Job is the state of one background indexing request
type Job struct {
	ID           string       `json:"id"`
	RepositoryID string       `json:"repository_id"`
	Status       string       `json:"status"`
	Shared       bool         `json:"shared"` // Joined a run started by another request
	Summary      *SummaryView `json:"summary,omitempty"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// SummaryView is the JSON form of an indexing run summary
type SummaryView struct {
	Complete        bool     `json:"complete"`
	FilesDiscovered int      `json:"files_discovered"`
	FilesChunked    int      `json:"files_chunked"`
	FilesSkipped    int      `json:"files_skipped"`
	ChunksTotal     int      `json:"chunks_total"`
	ChunksUnchanged int      `json:"chunks_unchanged"`
	ChunksCommitted int      `json:"chunks_committed"`
	ChunksFailed    int      `json:"chunks_failed"`
	FailedBatches   []int    `json:"failed_batches,omitempty"`
	DurationMS      int64    `json:"duration_ms"`
	Errors          []string `json:"errors,omitempty"`
}

func newSummaryView(s *types.Summary) *SummaryView {
	v := &SummaryView{
		Complete:        s.Complete(),
		FilesDiscovered: s.FilesDiscovered,
		FilesChunked:    s.FilesChunked,
		FilesSkipped:    s.FilesSkipped,
		ChunksTotal:     s.ChunksTotal,
		ChunksUnchanged: s.ChunksUnchanged,
		ChunksCommitted: s.ChunksCommitted(),
		ChunksFailed:    s.ChunksFailed(),
		DurationMS:      s.Duration.Milliseconds(),
		Errors:          s.ErrorMessages,
	}
	for _, b := range s.FailedBatches() {
		v.FailedBatches = append(v.FailedBatches, b.Index)
	}
	return v
}

// JobTracker keeps indexing jobs in memory. Finished jobs are kept until
// the process exits.
type JobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobTracker creates an empty tracker
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*Job)}
}

// Create registers a running job for the repository and returns its ID
func (t *JobTracker) Create(repositoryID string) string {
	id := uuid.New().String()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Job{
		ID:           id,
		RepositoryID: repositoryID,
		Status:       JobRunning,
		StartedAt:    time.Now(),
	}
	return id
}

// Complete records the outcome of a job
func (t *JobTracker) Complete(id string, summary *types.Summary, shared bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.Shared = shared
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	job.Status = JobComplete
	job.Summary = newSummaryView(summary)
}

// Get returns a snapshot of the job
func (t *JobTracker) Get(id string) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}
