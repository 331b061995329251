package types

import "time"

// BatchStatus is the outcome of one sub-batch in an indexing run
type BatchStatus string

const (
	BatchCommitted BatchStatus = "committed"
	BatchFailed    BatchStatus = "failed"
)

// BatchResult records what happened to one sub-batch.
// Count is the number of chunks in the sub-batch; Err is set only when Failed.
type BatchResult struct {
	Index  int
	Status BatchStatus
	Count  int
	Err    error
}

// Committed reports whether the sub-batch was persisted
func (b BatchResult) Committed() bool {
	return b.Status == BatchCommitted
}

// Summary aggregates an indexing run.
// A run with failed batches still completes; coverage is eventual.
type Summary struct {
	RepositoryID    string
	FilesDiscovered int
	FilesChunked    int
	FilesSkipped    int
	ChunksTotal     int
	ChunksUnchanged int
	Batches         []BatchResult
	StartTime       time.Time
	Duration        time.Duration
	ErrorMessages   []string
}

// ChunksCommitted returns the number of chunks in committed sub-batches
func (s *Summary) ChunksCommitted() int {
	n := 0
	for _, b := range s.Batches {
		if b.Committed() {
			n += b.Count
		}
	}
	return n
}

// ChunksFailed returns the number of chunks in failed sub-batches
func (s *Summary) ChunksFailed() int {
	n := 0
	for _, b := range s.Batches {
		if !b.Committed() {
			n += b.Count
		}
	}
	return n
}

// FailedBatches returns the failed sub-batch results in run order
func (s *Summary) FailedBatches() []BatchResult {
	var failed []BatchResult
	for _, b := range s.Batches {
		if !b.Committed() {
			failed = append(failed, b)
		}
	}
	return failed
}

// Complete reports whether every sub-batch committed and no file was skipped
func (s *Summary) Complete() bool {
	return s.FilesSkipped == 0 && len(s.FailedBatches()) == 0
}
