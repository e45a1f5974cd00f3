// Package orchestrator implements the relay's workflows on top of a
// transport session and the transfer engine: download every zip from a
// directory, upload every local zip with country routing and archival, and
// relay a single file between two servers through local staging.
//
// Workflows never return errors. Each returns a Report carrying a success
// flag and a human-readable cause; details go to the log.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/archive"
	"github.com/franksops/gorelay/config"
	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
	"github.com/franksops/gorelay/transport"
)

// Operation names, as they appear in logs and the job ledger.
const (
	OpRelay           = "relay"
	OpUploadAll       = "upload-all"
	OpDownloadAll     = "download-all"
	OpUploadOne       = "upload-one"
	OpDownloadRequest = "download-request"
)

// Session is the part of a transport session a run uses. A run opens its
// own session and closes it on every exit path.
type Session interface {
	provider.Provider
	Chdir(ctx context.Context, dir string) error
	Getwd() string
	Addr() string
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, p transport.Params) (Session, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, p transport.Params) (Session, error)

func (f DialFunc) Dial(ctx context.Context, p transport.Params) (Session, error) { return f(ctx, p) }

// NewTransportDialer dials real SFTP sessions.
func NewTransportDialer(logger logrus.FieldLogger) Dialer {
	return DialFunc(func(ctx context.Context, p transport.Params) (Session, error) {
		s, err := transport.Open(ctx, p, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Observer receives run events, e.g. to drive a progress display. Calls are
// made synchronously from the run's goroutine.
type Observer interface {
	RunStarted(run engine.RunInfo)
	Progress(run engine.RunInfo, p engine.Progress)
	FileFinished(run engine.RunInfo, f FileResult)
	RunFinished(r *Report)
}

// Orchestrator runs workflows. It is safe for concurrent use: each call owns
// its session, and batch runs against the same host and directory are
// serialized.
type Orchestrator struct {
	cfg      *config.Config
	dialer   Dialer
	exec     *engine.Executor
	archiver archive.Archiver
	logger   logrus.FieldLogger
	observer Observer

	local *provider.LocalProvider
	locks *keyedMutex
	newID func() string
	now   func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObserver attaches a run observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New returns an Orchestrator using cfg for every configured path, port and
// credential.
func New(cfg *config.Config, dialer Dialer, exec *engine.Executor, archiver archive.Archiver, logger logrus.FieldLogger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := &Orchestrator{
		cfg:      cfg,
		dialer:   dialer,
		exec:     exec,
		archiver: archiver,
		logger:   logger,
		local:    provider.NewLocalProvider(""),
		locks:    newKeyedMutex(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the per-invocation state shared by the workflows.
type run struct {
	ctx    context.Context
	info   engine.RunInfo
	log    logrus.FieldLogger
	report *Report
}

func (o *Orchestrator) start(ctx context.Context, op, host string) *run {
	info := engine.RunInfo{RunID: o.newID(), Operation: op, Host: host}
	r := &run{
		ctx:  engine.WithRun(ctx, info),
		info: info,
		log:  o.logger.WithFields(info.Fields()),
		report: &Report{
			RunID:     info.RunID,
			Operation: op,
			Files:     []FileResult{},
			StartedAt: o.now().UTC(),
		},
	}
	r.log.Info("Run started")
	if o.observer != nil {
		o.observer.RunStarted(info)
	}
	return r
}

// finish seals the report. A nil err means success.
func (o *Orchestrator) finish(r *run, err error) *Report {
	rep := r.report
	rep.FinishedAt = o.now().UTC()
	rep.Success = err == nil
	if err != nil {
		rep.Err = err
		rep.Kind = relayerr.KindOf(err)
		rep.Cause = err.Error()
		r.log.WithError(err).WithFields(logrus.Fields{
			"kind":  rep.Kind,
			"files": len(rep.Files),
		}).Error("Run failed")
	} else {
		r.log.WithFields(logrus.Fields{
			"files": rep.Transferred(),
			"bytes": rep.Bytes,
		}).Info("Run complete")
	}
	if o.observer != nil {
		o.observer.RunFinished(rep)
	}
	return rep
}

// open dials a session for r. The caller must close it via closeSession.
func (o *Orchestrator) open(r *run, p transport.Params) (Session, error) {
	red := p.Redacted()
	r.log.WithFields(logrus.Fields{
		"address":   red.Address(),
		"user":      red.User,
		"password":  red.Password,
		"key_auth":  len(red.PrivateKey) > 0,
		"host_keys": red.HostKey.Mode,
	}).Debug("Opening session")
	return o.dialer.Dial(r.ctx, p)
}

func (o *Orchestrator) closeSession(r *run, s Session) {
	if err := s.Close(); err != nil {
		r.log.WithError(err).Warn("Error closing session")
	}
}

// callbacks wires executor events to the log and the observer.
func (o *Orchestrator) callbacks(r *run, onEnd func(engine.Result)) engine.Callbacks {
	cb := engine.Callbacks{OnEnd: onEnd}
	if o.observer != nil {
		cb.OnProgress = func(p engine.Progress) { o.observer.Progress(r.info, p) }
	}
	return cb
}

func (o *Orchestrator) record(r *run, f FileResult) {
	r.report.add(f)
	if o.observer != nil {
		o.observer.FileFinished(r.info, f)
	}
}

func (o *Orchestrator) stopOnFirstError() bool {
	return o.cfg.Batch.StopOnFirstError
}
