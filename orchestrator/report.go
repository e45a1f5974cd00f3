package orchestrator

import (
	"time"

	"github.com/franksops/gorelay/relayerr"
)

// FileResult is the outcome for one file of a run.
type FileResult struct {
	Name       string `json:"name"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Bytes      int64  `json:"bytes"`
	Checksum   string `json:"checksum,omitempty"`

	// RouteFallback is set when the routed remote directory was unusable
	// and the file went to the fallback directory instead.
	RouteFallback bool `json:"route_fallback,omitempty"`
	Archived      bool `json:"archived,omitempty"`

	Error string `json:"error,omitempty"`
}

// OK reports whether the file was transferred.
func (f FileResult) OK() bool { return f.Error == "" }

// Report is the outcome of a run.
type Report struct {
	RunID     string `json:"run_id"`
	Operation string `json:"operation"`
	Success   bool   `json:"success"`

	// Cause is a human-readable failure reason for logs; empty on success.
	Cause string        `json:"cause,omitempty"`
	Kind  relayerr.Kind `json:"kind,omitempty"`
	Err   error         `json:"-"`

	Files []FileResult `json:"files"`
	Bytes int64        `json:"bytes"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Report) add(f FileResult) {
	r.Files = append(r.Files, f)
	if f.OK() {
		r.Bytes += f.Bytes
	}
}

// Transferred counts the files that made it.
func (r *Report) Transferred() int {
	n := 0
	for _, f := range r.Files {
		if f.OK() {
			n++
		}
	}
	return n
}

// Failed returns the files that did not make it.
func (r *Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
