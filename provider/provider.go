// Package provider abstracts the places files move between: the local
// filesystem, an SFTP session and S3. The relay engine streams through these
// interfaces and never needs to know which backend it is talking to.
package provider

import (
	"context"
	"io"
	"os"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// ModeInfo is implemented by FileInfo values that carry POSIX permission bits.
type ModeInfo interface {
	FileInfo
	Mode() os.FileMode
}

// Provider represents a storage backend abstraction.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory. An empty directory
	// yields an empty slice and no error.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming writes, applying metadata if supported.
	// Data is only guaranteed to be persisted once Close returns nil.
	OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error)
}

// Aborter is implemented by writers that can discard a partially written file.
// Callers use it instead of Close when a transfer fails midway.
type Aborter interface {
	Abort() error
}

type fileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
	mode    os.FileMode
}

func (f *fileInfo) Name() string       { return f.name }
func (f *fileInfo) Size() int64        { return f.size }
func (f *fileInfo) IsDir() bool        { return f.isDir }
func (f *fileInfo) ModTime() time.Time { return f.modTime }
func (f *fileInfo) Mode() os.FileMode  { return f.mode }

// WrapOSFileInfo converts an os.FileInfo (local or SFTP) into a ModeInfo.
func WrapOSFileInfo(info os.FileInfo) ModeInfo {
	return &fileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		modTime: info.ModTime(),
		mode:    info.Mode().Perm(),
	}
}

// NewFileInfo builds a FileInfo from raw values.
func NewFileInfo(name string, size int64, isDir bool, modTime time.Time) FileInfo {
	return &fileInfo{name: name, size: size, isDir: isDir, modTime: modTime}
}
