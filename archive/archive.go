// Package archive keeps copies of successfully uploaded files.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
)

// Archiver stores a copy of a local file after it has been uploaded.
type Archiver interface {
	// Archive copies localPath into the archive under its base name,
	// replacing an existing copy.
	Archive(ctx context.Context, localPath string) error

	// List returns the archived files.
	List(ctx context.Context) ([]provider.FileInfo, error)
}

// LocalArchiver copies files into a "sent" directory.
type LocalArchiver struct {
	dir   string
	local *provider.LocalProvider
}

var _ Archiver = (*LocalArchiver)(nil)

// NewLocalArchiver returns an archiver writing into dir. The directory is
// created on first use.
func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{dir: dir, local: provider.NewLocalProvider("")}
}

// Dir returns the archive directory.
func (a *LocalArchiver) Dir() string { return a.dir }

// Archive writes through a temporary sibling that is renamed over the
// destination, so readers never observe a half-written copy.
func (a *LocalArchiver) Archive(ctx context.Context, localPath string) error {
	dst := filepath.Join(a.dir, filepath.Base(localPath))
	fail := func(op string, err error) error {
		return relayerr.New(relayerr.KindLocalIO, op, dst, err)
	}

	if err := a.local.MkdirAll(ctx, a.dir); err != nil {
		return fail("mkdir", err)
	}

	info, err := a.local.Stat(ctx, localPath)
	if err != nil {
		return relayerr.New(relayerr.KindLocalIO, "archive", localPath, err)
	}

	src, err := a.local.OpenRead(ctx, localPath)
	if err != nil {
		return relayerr.New(relayerr.KindLocalIO, "archive", localPath, err)
	}
	defer src.Close()

	w, err := a.local.OpenWrite(ctx, dst, info)
	if err != nil {
		return fail("archive", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.(provider.Aborter).Abort()
		return fail("archive", err)
	}
	if err := w.Close(); err != nil {
		return fail("archive", err)
	}
	return nil
}

// List returns the archived files; a missing directory is an empty archive.
func (a *LocalArchiver) List(ctx context.Context) ([]provider.FileInfo, error) {
	entries, err := a.local.List(ctx, a.dir)
	if os.IsNotExist(err) {
		return []provider.FileInfo{}, nil
	}
	if err != nil {
		return nil, relayerr.New(relayerr.KindLocalIO, "ls", a.dir, err)
	}
	files := make([]provider.FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e)
		}
	}
	return files, nil
}

// MirrorArchiver archives locally and then copies the file to a second
// provider, typically S3. Mirror failures are logged and do not fail the
// archive step.
type MirrorArchiver struct {
	Primary Archiver
	Mirror  provider.Provider
	Exec    *engine.Executor
	Logger  logrus.FieldLogger
}

var _ Archiver = (*MirrorArchiver)(nil)

func (m *MirrorArchiver) Archive(ctx context.Context, localPath string) error {
	if err := m.Primary.Archive(ctx, localPath); err != nil {
		return err
	}

	name := filepath.Base(localPath)
	if _, err := m.Exec.Upload(ctx, m.Mirror, localPath, name, engine.Callbacks{}); err != nil {
		m.Logger.WithError(err).WithFields(logrus.Fields{
			"file":   name,
			"mirror": mirrorName(m.Mirror),
		}).Warn("Archive mirror copy failed")
	}
	return nil
}

func (m *MirrorArchiver) List(ctx context.Context) ([]provider.FileInfo, error) {
	return m.Primary.List(ctx)
}

func mirrorName(p provider.Provider) string {
	if s, ok := p.(interface{ String() string }); ok {
		return s.String()
	}
	return "mirror"
}

// New returns the archiver for a sent directory, mirrored to s3URI when it is set.
func New(ctx context.Context, sentDir, s3URI string, exec *engine.Executor, logger logrus.FieldLogger) (Archiver, error) {
	local := NewLocalArchiver(sentDir)
	if s3URI == "" {
		return local, nil
	}
	bucket, prefix, err := provider.ParseS3URI(s3URI)
	if err != nil {
		return nil, relayerr.New(relayerr.KindPrecondition, "archive", s3URI, err)
	}
	s3p, err := provider.NewS3Provider(ctx, bucket, prefix)
	if err != nil {
		return nil, relayerr.New(relayerr.KindPrecondition, "archive", s3URI, err)
	}
	return &MirrorArchiver{Primary: local, Mirror: s3p, Exec: exec, Logger: logger}, nil
}
