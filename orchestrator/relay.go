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

// Relay downloads req.Source.RemotePath into a staging file unique to this
// call, uploads it to req.Destination.RemotePath and deletes the staging
// file. The upload is never attempted when the download failed, and the
// relay only succeeds when both legs moved the same bytes.
func (o *Orchestrator) Relay(ctx context.Context, req RelayRequest) *Report {
	r := o.start(ctx, OpRelay, req.Source.Host)

	if err := req.Source.validate("source"); err != nil {
		return o.finish(r, err)
	}
	if err := req.Destination.validate("destination"); err != nil {
		return o.finish(r, err)
	}
	policy, err := o.cfg.RelayHostKeyPolicy()
	if err != nil {
		return o.finish(r, err)
	}

	staging := filepath.Join(o.cfg.Local.StagingPath, "relay-"+r.info.RunID+".tmp")
	f := FileResult{
		Name:       path.Base(req.Source.RemotePath),
		LocalPath:  staging,
		RemotePath: req.Destination.RemotePath,
	}
	log := r.log.WithFields(logrus.Fields{
		"file":        req.Source.RemotePath,
		"destination": req.Destination.Host,
		"staging":     staging,
	})

	err = o.relay(r, req, policy, &f)

	// The staging file goes away whatever happened.
	if rmErr := o.local.Remove(context.WithoutCancel(r.ctx), staging); rmErr != nil {
		rmErr = relayerr.New(relayerr.KindLocalIO, "rm", staging, rmErr)
		log.WithError(rmErr).Error("Failed to delete staging file")
		if err == nil {
			err = rmErr
		}
	}

	if err != nil {
		f.Error = err.Error()
	}
	o.record(r, f)
	return o.finish(r, err)
}

func (o *Orchestrator) relay(r *run, req RelayRequest, policy transport.HostKeyPolicy, f *FileResult) error {
	timeout := o.cfg.ConnectTimeout()

	if err := o.local.MkdirAll(r.ctx, o.cfg.Local.StagingPath); err != nil {
		return relayerr.New(relayerr.KindLocalIO, "mkdir", o.cfg.Local.StagingPath, err)
	}

	// Leg A.
	src, err := o.open(r, req.Source.params(o.cfg.Relay.SourcePort, policy, timeout))
	if err != nil {
		return err
	}
	down, err := o.exec.Download(r.ctx, src, req.Source.RemotePath, f.LocalPath, o.callbacks(r, nil))
	o.closeSession(r, src)
	if err != nil {
		return err
	}

	// Leg B.
	dstParams := req.Destination.params(o.cfg.Relay.DestinationPort, policy, timeout)
	r.log.WithFields(logrus.Fields{"destination": dstParams.Address(), "bytes": down.Bytes}).Info("Source leg complete")
	dst, err := o.open(r, dstParams)
	if err != nil {
		return err
	}
	defer o.closeSession(r, dst)

	up, err := o.exec.Upload(r.ctx, dst, f.LocalPath, req.Destination.RemotePath, o.callbacks(r, nil))
	f.Bytes = up.Bytes
	if err != nil {
		return err
	}

	if !engine.VerifyChecksum(up.Checksum, down.Checksum) || up.Bytes != down.Bytes {
		return relayerr.Errorf(relayerr.KindTransfer, "verify", req.Destination.RemotePath,
			"relayed %d bytes (crc %s) but downloaded %d bytes (crc %s)",
			up.Bytes, engine.FormatChecksum(up.Checksum), down.Bytes, engine.FormatChecksum(down.Checksum))
	}
	f.Checksum = engine.FormatChecksum(up.Checksum)
	return nil
}
