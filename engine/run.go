package engine

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RunInfo identifies the orchestrator run a transfer belongs to.
type RunInfo struct {
	RunID     string
	Operation string
	Host      string
}

type runKey struct{}

// WithRun attaches run metadata to ctx for the executor and job ledger.
func WithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, info)
}

// RunFrom returns the run metadata attached to ctx, if any.
func RunFrom(ctx context.Context) RunInfo {
	info, _ := ctx.Value(runKey{}).(RunInfo)
	return info
}

// Fields returns the log fields for this run, omitting empty ones.
func (r RunInfo) Fields() logrus.Fields {
	f := logrus.Fields{}
	if r.RunID != "" {
		f["run_id"] = r.RunID
	}
	if r.Operation != "" {
		f["operation"] = r.Operation
	}
	if r.Host != "" {
		f["host"] = r.Host
	}
	return f
}
