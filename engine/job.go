package engine

import (
	"github.com/google/uuid"
)

// Direction is the way bytes flow relative to the local filesystem.
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// TransferJob is one file moved between a local path and a remote path.
// It is created per file by an orchestrator and consumed once.
type TransferJob struct {
	ID        string
	Direction Direction

	LocalPath  string
	RemotePath string

	// SizeHint is the expected size in bytes; zero means unknown.
	SizeHint int64
}

// NewTransferJob returns a job with a fresh ID.
func NewTransferJob(dir Direction, localPath, remotePath string, sizeHint int64) TransferJob {
	return TransferJob{
		ID:         uuid.NewString(),
		Direction:  dir,
		LocalPath:  localPath,
		RemotePath: remotePath,
		SizeHint:   sizeHint,
	}
}

// Source returns the path bytes are read from.
func (j TransferJob) Source() string {
	if j.Direction == Upload {
		return j.LocalPath
	}
	return j.RemotePath
}

// Destination returns the path bytes are written to.
func (j TransferJob) Destination() string {
	if j.Direction == Upload {
		return j.RemotePath
	}
	return j.LocalPath
}
