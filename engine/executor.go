package engine

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
)

// Result describes a finished transfer.
type Result struct {
	Job      TransferJob
	Bytes    int64
	Checksum uint64
}

// Callbacks observe a single transfer. Both are optional.
type Callbacks struct {
	// OnProgress is called after every buffer chunk and once more when the
	// copy finishes, so even an empty file reports once.
	OnProgress func(Progress)

	// OnEnd is called only after the destination accepted the file, i.e.
	// after the destination writer closed without error.
	OnEnd func(Result)
}

// Executor streams single files between the local filesystem and a remote
// provider through pooled fixed-size buffers. Transfers are attempted
// exactly once.
type Executor struct {
	Buffers *BufferPool
	Tracker *JobTracker
	Logger  logrus.FieldLogger

	// Local is the local filesystem; nil means provider.NewLocalProvider("").
	Local provider.Provider
}

// NewExecutor returns an Executor reading and writing the local filesystem.
func NewExecutor(buffers *BufferPool, tracker *JobTracker, logger logrus.FieldLogger) *Executor {
	return &Executor{
		Buffers: buffers,
		Tracker: tracker,
		Logger:  logger,
		Local:   provider.NewLocalProvider(""),
	}
}

// Download copies remotePath from remote into localPath. The local file only
// appears once the download completed.
func (e *Executor) Download(ctx context.Context, remote provider.Provider, remotePath, localPath string, cb Callbacks) (Result, error) {
	job := NewTransferJob(Download, localPath, remotePath, 0)
	return e.Run(ctx, job, remote, cb)
}

// Upload copies localPath to remotePath on remote. A missing local file is
// reported before anything is opened remotely.
func (e *Executor) Upload(ctx context.Context, remote provider.Provider, localPath, remotePath string, cb Callbacks) (Result, error) {
	job := NewTransferJob(Upload, localPath, remotePath, 0)
	return e.Run(ctx, job, remote, cb)
}

// Run executes a prepared job against remote.
func (e *Executor) Run(ctx context.Context, job TransferJob, remote provider.Provider, cb Callbacks) (Result, error) {
	local := e.local()

	src, dst := remote, local
	srcKind, dstKind := relayerr.KindTransfer, relayerr.KindLocalIO
	if job.Direction == Upload {
		src, dst = local, remote
		srcKind, dstKind = relayerr.KindLocalIO, relayerr.KindTransfer
	}

	log := e.logger().WithFields(RunFrom(ctx).Fields()).WithFields(logrus.Fields{
		"job_id":    job.ID,
		"direction": job.Direction,
		"file":      job.Source(),
	})

	if err := e.Tracker.InitJob(ctx, job); err != nil {
		log.WithError(err).Warn("Failed to record job")
	}

	res, err := e.transfer(ctx, job, src, dst, srcKind, dstKind, log, cb)
	if err != nil {
		if terr := e.Tracker.MarkFailed(job.ID, err); terr != nil {
			log.WithError(terr).Warn("Failed to record job failure")
		}
		log.WithError(err).Error("Transfer failed")
		return res, err
	}

	if terr := e.Tracker.MarkCompleted(job.ID, res.Bytes, res.Checksum); terr != nil {
		log.WithError(terr).Warn("Failed to record job completion")
	}
	log.WithFields(logrus.Fields{
		"bytes":    res.Bytes,
		"checksum": FormatChecksum(res.Checksum),
	}).Info("Transfer complete")

	if cb.OnEnd != nil {
		cb.OnEnd(res)
	}
	return res, nil
}

func (e *Executor) transfer(
	ctx context.Context,
	job TransferJob,
	src, dst provider.Provider,
	srcKind, dstKind relayerr.Kind,
	log logrus.FieldLogger,
	cb Callbacks,
) (Result, error) {
	res := Result{Job: job}

	// Stat first: for uploads this is the local pre-check.
	info, err := src.Stat(ctx, job.Source())
	if err != nil {
		return res, relayerr.Wrap(srcKind, "stat", job.Source(), err)
	}
	if info.IsDir() {
		return res, relayerr.Errorf(srcKind, "stat", job.Source(), "is a directory")
	}
	total := job.SizeHint
	if total <= 0 {
		total = info.Size()
	}
	res.Job.SizeHint = total

	if err := e.Tracker.MarkInProgress(job.ID, total); err != nil {
		log.WithError(err).Warn("Failed to record job progress")
	}

	reader, err := src.OpenRead(ctx, job.Source())
	if err != nil {
		return res, relayerr.Wrap(srcKind, "open", job.Source(), err)
	}
	defer reader.Close()

	writer, err := dst.OpenWrite(ctx, job.Destination(), info)
	if err != nil {
		return res, relayerr.Wrap(dstKind, "create", job.Destination(), err)
	}

	snap := Progress{JobID: job.ID, File: job.Source(), Total: total}
	report := func(p Progress) {
		if pct, ok := p.Percent(); ok {
			log.WithFields(logrus.Fields{"bytes": p.Transferred, "percent": pct}).Debug("Transfer progress")
		} else {
			log.WithField("bytes", p.Transferred).Debug("Transfer progress")
		}
		if cb.OnProgress != nil {
			cb.OnProgress(p)
		}
	}

	sum := NewChecksumWriter(e.Tracker.NewTrackedWriter(writer, job.ID, 0))
	pw := &progressWriter{ctx: ctx, w: sum, snap: snap, fn: report}

	buf := e.buffers().Get()
	defer e.buffers().Put(buf)

	// sideReader hides WriterTo, and pw has no ReadFrom, so every chunk
	// goes through buf and pw.
	sr := &sideReader{r: reader}
	n, err := io.CopyBuffer(pw, sr, *buf)
	res.Bytes = n
	if err != nil {
		abort(writer, log)
		kind, p := dstKind, job.Destination()
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = relayerr.KindTransfer
		case sr.err != nil:
			kind, p = srcKind, job.Source()
		}
		return res, relayerr.Wrap(kind, "copy", p, err)
	}

	snap.Transferred = n
	report(snap)

	if err := writer.Close(); err != nil {
		abort(writer, log)
		return res, relayerr.Wrap(dstKind, "close", job.Destination(), err)
	}

	res.Checksum = sum.Checksum()
	return res, nil
}

// sideReader remembers read failures so copy errors can be blamed on the
// right side.
type sideReader struct {
	r   io.Reader
	err error
}

func (s *sideReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// abort discards a partially written destination.
func abort(w io.WriteCloser, log logrus.FieldLogger) {
	var err error
	if a, ok := w.(provider.Aborter); ok {
		err = a.Abort()
	} else {
		err = w.Close()
	}
	if err != nil {
		log.WithError(err).Warn("Failed to discard partial file")
	}
}

func (e *Executor) local() provider.Provider {
	if e.Local != nil {
		return e.Local
	}
	return provider.NewLocalProvider("")
}

var defaultBuffers = NewBufferPool(DefaultBufferSize)

func (e *Executor) buffers() *BufferPool {
	if e.Buffers == nil {
		return defaultBuffers
	}
	return e.Buffers
}

func (e *Executor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}
