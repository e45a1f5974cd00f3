package engine

import (
	"context"
	"io"
)

// Progress is a snapshot of one job's byte counters.
type Progress struct {
	JobID       string
	File        string
	Transferred int64
	Total       int64
}

// Percent returns (transferred * 100) / total. The second result is false
// when the total is unknown or zero, in which case no percentage exists.
func (p Progress) Percent() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	return float64(p.Transferred) * 100.0 / float64(p.Total), true
}

// progressWriter reports after every chunk written and stops the copy once
// ctx is done.
type progressWriter struct {
	ctx  context.Context
	w    io.Writer
	snap Progress
	fn   func(Progress)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	if err := pw.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.snap.Transferred += int64(n)
		pw.fn(pw.snap)
	}
	return n, err
}
