package engine

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/franksops/gorelay/store"
)

// CheckpointConfig defines the criteria for when to save a job's byte count.
type CheckpointConfig struct {
	// BytesInterval triggers a save after this many bytes have been transferred
	BytesInterval int64
	// TimeInterval triggers a save after this much time has passed
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 10 * 1024 * 1024, // 10 MB
	TimeInterval:  5 * time.Second,
}

// JobTracker records each job's lifecycle in the ledger store.
// A nil *JobTracker is valid and records nothing.
type JobTracker struct {
	store  store.Store
	config CheckpointConfig
	now    func() time.Time
}

// NewJobTracker creates a new JobTracker
func NewJobTracker(store store.Store, config CheckpointConfig) *JobTracker {
	return &JobTracker{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// Store returns the underlying ledger.
func (jt *JobTracker) Store() store.Store {
	if jt == nil {
		return nil
	}
	return jt.store
}

// InitJob saves job as Pending, tagged with the run attached to ctx.
func (jt *JobTracker) InitJob(ctx context.Context, job TransferJob) error {
	if jt == nil {
		return nil
	}
	run := RunFrom(ctx)
	record := &store.JobRecord{
		ID:         job.ID,
		RunID:      run.RunID,
		Operation:  run.Operation,
		Host:       run.Host,
		Direction:  string(job.Direction),
		LocalPath:  job.LocalPath,
		RemotePath: job.RemotePath,
		State:      store.StatePending,
		TotalBytes: job.SizeHint,
		StartedAt:  jt.now().UTC(),
	}
	return jt.store.SaveJob(record)
}

// MarkInProgress updates a job's state to InProgress and records its size
// once known.
func (jt *JobTracker) MarkInProgress(jobID string, totalBytes int64) error {
	return jt.update(jobID, func(r *store.JobRecord) {
		r.State = store.StateInProgress
		if totalBytes > 0 {
			r.TotalBytes = totalBytes
		}
	})
}

// MarkCompleted updates a job's state to Completed.
func (jt *JobTracker) MarkCompleted(jobID string, bytes int64, checksum uint64) error {
	return jt.update(jobID, func(r *store.JobRecord) {
		r.State = store.StateCompleted
		r.BytesTransferred = bytes
		r.TotalBytes = bytes
		r.Checksum = FormatChecksum(checksum)
		r.FinishedAt = jt.now().UTC()
	})
}

// MarkFailed updates a job's state to Failed with an error message
func (jt *JobTracker) MarkFailed(jobID string, err error) error {
	return jt.update(jobID, func(r *store.JobRecord) {
		r.State = store.StateFailed
		if err != nil {
			r.Error = err.Error()
		}
		r.FinishedAt = jt.now().UTC()
	})
}

func (jt *JobTracker) update(jobID string, mutate func(*store.JobRecord)) error {
	if jt == nil {
		return nil
	}
	record, err := jt.store.GetJob(jobID)
	if err != nil {
		return err
	}
	mutate(record)
	return jt.store.SaveJob(record)
}

// TrackedWriter wraps an io.Writer to track bytes written and checkpoint progress
type TrackedWriter struct {
	io.Writer
	tracker *JobTracker
	jobID   string

	mu              sync.Mutex
	bytesWritten    int64
	lastCheckpoint  int64
	lastCheckpointT time.Time
}

// NewTrackedWriter creates a new TrackedWriter. On a nil tracker it only counts.
func (jt *JobTracker) NewTrackedWriter(w io.Writer, jobID string, startBytes int64) *TrackedWriter {
	return &TrackedWriter{
		Writer:          w,
		tracker:         jt,
		jobID:           jobID,
		bytesWritten:    startBytes,
		lastCheckpoint:  startBytes,
		lastCheckpointT: time.Now(),
	}
}

// Write implements io.Writer and checkpoints progress
func (tw *TrackedWriter) Write(p []byte) (int, error) {
	n, err := tw.Writer.Write(p)
	if n > 0 {
		tw.mu.Lock()
		tw.bytesWritten += int64(n)

		needsCheckpoint := false
		if tw.tracker != nil {
			if tw.bytesWritten-tw.lastCheckpoint >= tw.tracker.config.BytesInterval {
				needsCheckpoint = true
			} else if time.Since(tw.lastCheckpointT) >= tw.tracker.config.TimeInterval {
				needsCheckpoint = true
			}
		}

		currentBytes := tw.bytesWritten
		tw.mu.Unlock()

		if needsCheckpoint {
			tw.checkpoint(currentBytes)
		}
	}
	return n, err
}

func (tw *TrackedWriter) checkpoint(bytes int64) {
	// A failed checkpoint never fails the transfer.
	err := tw.tracker.update(tw.jobID, func(r *store.JobRecord) {
		r.BytesTransferred = bytes
	})
	if err == nil {
		tw.mu.Lock()
		tw.lastCheckpoint = bytes
		tw.lastCheckpointT = time.Now()
		tw.mu.Unlock()
	}
}

// BytesWritten returns the total number of bytes written
func (tw *TrackedWriter) BytesWritten() int64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten
}
