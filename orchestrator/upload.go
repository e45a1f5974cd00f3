package orchestrator

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/relayerr"
)

// UploadAllZips uploads every zip in the configured local upload directory.
// Each file goes to <cts.upload_path>/<first two characters of its name>;
// when that directory is unusable the file goes to the session's login
// directory instead and a warning is logged. Uploaded files are copied into
// the sent archive.
func (o *Orchestrator) UploadAllZips(ctx context.Context) *Report {
	r := o.start(ctx, OpUploadAll, o.cfg.CTS.Host)

	if err := o.cfg.RequireUpload(); err != nil {
		return o.finish(r, err)
	}
	p, err := o.cfg.UploadParams()
	if err != nil {
		return o.finish(r, err)
	}

	localDir := o.cfg.Local.UploadPath
	unlock := o.locks.Lock("upload|" + p.Address() + "|" + o.cfg.CTS.UploadPath)
	defer unlock()

	entries, err := o.local.List(r.ctx, localDir)
	if err != nil {
		return o.finish(r, relayerr.New(relayerr.KindLocalIO, "ls", localDir, err))
	}
	if len(entries) == 0 {
		return o.finish(r, relayerr.Errorf(relayerr.KindPrecondition, "ls", localDir, "no files present"))
	}
	zips := engine.SelectZips(entries)
	r.log.WithFields(logrus.Fields{
		"dir":     localDir,
		"entries": len(entries),
		"zips":    len(zips),
	}).Info("Listed local directory")
	if len(zips) == 0 {
		return o.finish(r, nil)
	}

	sess, err := o.open(r, p)
	if err != nil {
		return o.finish(r, err)
	}
	defer o.closeSession(r, sess)

	loginDir := sess.Getwd()

	var firstErr error
	for _, e := range zips {
		name := e.Name()
		localPath := filepath.Join(localDir, name)
		routed := engine.RouteDestination(name, o.cfg.CTS.UploadPath)
		if !path.IsAbs(routed) {
			// Relative upload paths hang off the login directory, not off
			// whichever country directory the previous file changed into.
			routed = joinRemote(loginDir, routed)
		}

		f := FileResult{Name: name, LocalPath: localPath, RemotePath: path.Join(routed, name)}
		log := r.log.WithFields(logrus.Fields{"file": name, "remote_dir": routed})

		if err := sess.Chdir(r.ctx, routed); err != nil {
			// Best effort: downstream systems accept files outside the
			// country directory.
			f.RouteFallback = true
			f.RemotePath = joinRemote(loginDir, name)
			log.WithError(err).WithField("fallback", f.RemotePath).Warn("Routed directory unavailable, uploading to fallback")
		}

		err := o.uploadAndArchive(r, sess, &f)
		o.record(r, f)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if o.stopOnFirstError() {
				return o.finish(r, err)
			}
		}
	}
	return o.finish(r, firstErr)
}

// UploadOne uploads a single local file to a caller-named server.
func (o *Orchestrator) UploadOne(ctx context.Context, req UploadRequest) *Report {
	r := o.start(ctx, OpUploadOne, req.Host)

	err := missing(OpUploadOne, map[string]string{
		"host":       req.Host,
		"user":       req.User,
		"privateKey": req.PrivateKey,
		"remotePath": req.RemotePath,
		"localFile":  req.LocalFile,
	})
	if err != nil {
		return o.finish(r, err)
	}
	p, err := req.params(o.cfg.CTS.UploadPort, o.cfg)
	if err != nil {
		return o.finish(r, err)
	}

	// Pre-check before any network call.
	if _, err := os.Stat(req.LocalFile); err != nil {
		return o.finish(r, relayerr.New(relayerr.KindLocalIO, "stat", req.LocalFile, err))
	}

	unlock := o.locks.Lock("upload|" + p.Address() + "|" + req.RemotePath)
	defer unlock()

	sess, err := o.open(r, p)
	if err != nil {
		return o.finish(r, err)
	}
	defer o.closeSession(r, sess)

	name := filepath.Base(req.LocalFile)
	f := FileResult{Name: name, LocalPath: req.LocalFile, RemotePath: req.RemotePath}
	if info, err := sess.Stat(r.ctx, req.RemotePath); err == nil && info.IsDir() {
		f.RemotePath = path.Join(req.RemotePath, name)
	}

	err = o.uploadAndArchive(r, sess, &f)
	o.record(r, f)
	return o.finish(r, err)
}

// uploadAndArchive uploads f and archives the local file once the server
// confirmed the upload.
func (o *Orchestrator) uploadAndArchive(r *run, sess Session, f *FileResult) error {
	var archiveErr error
	onEnd := func(res engine.Result) {
		if o.archiver == nil {
			return
		}
		if err := o.archiver.Archive(r.ctx, f.LocalPath); err != nil {
			archiveErr = relayerr.Wrap(relayerr.KindLocalIO, "archive", f.LocalPath, err)
			return
		}
		f.Archived = true
	}

	res, err := o.exec.Upload(r.ctx, sess, f.LocalPath, f.RemotePath, o.callbacks(r, onEnd))
	f.Bytes = res.Bytes
	if err != nil {
		f.Error = err.Error()
		return err
	}
	f.Checksum = engine.FormatChecksum(res.Checksum)
	if archiveErr != nil {
		r.log.WithError(archiveErr).WithField("file", f.Name).Error("Archive copy failed")
		f.Error = archiveErr.Error()
		return archiveErr
	}
	return nil
}

func joinRemote(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
