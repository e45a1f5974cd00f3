package ui

import (
	"path"
	"sync"
	"time"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/orchestrator"
)

// UIState is the aggregated view of one run.
type UIState struct {
	RunID     string
	Operation string
	Host      string

	CompletedFiles int
	FailedFiles    int
	CompletedBytes int64

	Active   *ActiveStream
	Finished []FinishedFile

	ThroughputBPms float64 // bytes per millisecond
	IsRunning      bool
	Done           bool
	Success        bool
	Cause          string
}

// ActiveStream is the transfer currently running.
type ActiveStream struct {
	JobID       string
	FilePath    string
	Transferred int64
	Total       int64
	Progress    float64 // 0.0 to 1.0, or -1 when the size is unknown
	BytesSec    float64
}

// FinishedFile is one line of the run's file list.
type FinishedFile struct {
	Name          string
	Bytes         int64
	OK            bool
	RouteFallback bool
}

// StateObserver folds orchestrator events into a UIState. It is safe for
// use from the run goroutine and the render loop at once.
type StateObserver struct {
	mu          sync.Mutex
	state       UIState
	started     time.Time
	streamStart time.Time
	inFlight    int64

	now func() time.Time
}

var _ orchestrator.Observer = (*StateObserver)(nil)

func NewStateObserver() *StateObserver {
	return &StateObserver{now: time.Now}
}

func (o *StateObserver) RunStarted(run engine.RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = UIState{
		RunID:     run.RunID,
		Operation: run.Operation,
		Host:      run.Host,
		IsRunning: true,
	}
	o.started = o.now()
	o.inFlight = 0
}

func (o *StateObserver) Progress(_ engine.RunInfo, p engine.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	a := o.state.Active
	if a == nil || a.JobID != p.JobID {
		a = &ActiveStream{JobID: p.JobID, FilePath: p.File}
		o.state.Active = a
		o.streamStart = now
	}
	a.Transferred = p.Transferred
	a.Total = p.Total
	if pct, ok := p.Percent(); ok {
		a.Progress = pct / 100
	} else {
		a.Progress = -1
	}
	if secs := now.Sub(o.streamStart).Seconds(); secs > 0 {
		a.BytesSec = float64(p.Transferred) / secs
	}

	o.inFlight = p.Transferred
	o.updateThroughput(now)
}

func (o *StateObserver) FileFinished(_ engine.RunInfo, f orchestrator.FileResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.Finished = append(o.state.Finished, FinishedFile{
		Name:          path.Base(f.Name),
		Bytes:         f.Bytes,
		OK:            f.OK(),
		RouteFallback: f.RouteFallback,
	})
	if f.OK() {
		o.state.CompletedFiles++
		o.state.CompletedBytes += f.Bytes
	} else {
		o.state.FailedFiles++
	}
	o.state.Active = nil
	o.inFlight = 0
	o.updateThroughput(o.now())
}

func (o *StateObserver) RunFinished(rep *orchestrator.Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Active = nil
	o.state.IsRunning = false
	o.state.Done = true
	o.state.Success = rep.Success
	o.state.Cause = rep.Cause
}

func (o *StateObserver) updateThroughput(now time.Time) {
	ms := float64(now.Sub(o.started).Milliseconds())
	if ms <= 0 {
		return
	}
	o.state.ThroughputBPms = float64(o.state.CompletedBytes+o.inFlight) / ms
}

// Snapshot returns a copy of the current state for rendering.
func (o *StateObserver) Snapshot() *UIState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.state
	if s.Active != nil {
		a := *s.Active
		s.Active = &a
	}
	s.Finished = append([]FinishedFile(nil), s.Finished...)
	return &s
}
