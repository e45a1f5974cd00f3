package orchestrator

import (
	"context"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/relayerr"
	"github.com/franksops/gorelay/transport"
)

// DownloadAllZips downloads every zip in the configured remote download
// directory into the configured local download directory.
func (o *Orchestrator) DownloadAllZips(ctx context.Context) *Report {
	r := o.start(ctx, OpDownloadAll, o.cfg.CTS.Host)

	if err := o.cfg.RequireDownload(); err != nil {
		return o.finish(r, err)
	}
	p, err := o.cfg.DownloadParams()
	if err != nil {
		return o.finish(r, err)
	}
	return o.finish(r, o.downloadDir(r, p, o.cfg.CTS.DownloadPath, o.cfg.Local.DownloadPath))
}

// DownloadAll downloads every zip in req.RemotePath into req.LocalDir on a
// caller-named server.
func (o *Orchestrator) DownloadAll(ctx context.Context, req DownloadRequest) *Report {
	r := o.start(ctx, OpDownloadRequest, req.Host)

	err := missing(OpDownloadRequest, map[string]string{
		"host":       req.Host,
		"user":       req.User,
		"privateKey": req.PrivateKey,
		"remotePath": req.RemotePath,
		"localDir":   req.LocalDir,
	})
	if err != nil {
		return o.finish(r, err)
	}
	p, err := req.params(o.cfg.CTS.DownloadPort, o.cfg)
	if err != nil {
		return o.finish(r, err)
	}
	return o.finish(r, o.downloadDir(r, p, req.RemotePath, req.LocalDir))
}

func (o *Orchestrator) downloadDir(r *run, p transport.Params, remoteDir, localDir string) error {
	unlock := o.locks.Lock("download|" + p.Address() + "|" + remoteDir)
	defer unlock()

	if err := o.local.MkdirAll(r.ctx, localDir); err != nil {
		return relayerr.New(relayerr.KindLocalIO, "mkdir", localDir, err)
	}

	sess, err := o.open(r, p)
	if err != nil {
		return err
	}
	defer o.closeSession(r, sess)

	entries, err := sess.List(r.ctx, remoteDir)
	if err != nil {
		return relayerr.Wrap(relayerr.KindList, "ls", remoteDir, err)
	}
	zips := engine.SelectZips(entries)
	r.log.WithFields(logrus.Fields{
		"dir":     remoteDir,
		"entries": len(entries),
		"zips":    len(zips),
	}).Info("Listed remote directory")

	var firstErr error
	for _, e := range zips {
		name := e.Name()
		remotePath := path.Join(remoteDir, name)
		localPath := filepath.Join(localDir, name)

		res, err := o.exec.Download(r.ctx, sess, remotePath, localPath, o.callbacks(r, nil))
		f := FileResult{Name: name, LocalPath: localPath, RemotePath: remotePath, Bytes: res.Bytes}
		if err != nil {
			f.Error = err.Error()
			o.record(r, f)
			if firstErr == nil {
				firstErr = err
			}
			if o.stopOnFirstError() {
				return err
			}
			continue
		}
		f.Checksum = engine.FormatChecksum(res.Checksum)
		o.record(r, f)
	}
	return firstErr
}
