package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ensure interface is implemented
var _ Provider = (*LocalProvider)(nil)

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{basePath: basePath}
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return WrapOSFileInfo(info), nil
}

// List returns directory entries sorted by name.
func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(p.resolve(path))
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		infos = append(infos, WrapOSFileInfo(info))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(p.resolve(path))
}

// OpenWrite writes into a sibling ".part" file which replaces path on Close.
// An aborted or failed write never leaves a truncated file under the final name.
func (p *LocalProvider) OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, err
	}

	mode := os.FileMode(0o644)
	if mi, ok := metadata.(ModeInfo); ok && mi.Mode() != 0 {
		mode = mi.Mode()
	}

	partPath := fullPath + ".part"
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}

	return &localWriteCloser{
		File:     file,
		fullPath: fullPath,
		partPath: partPath,
		metadata: metadata,
	}, nil
}

// MkdirAll creates path and any missing parents.
func (p *LocalProvider) MkdirAll(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(p.resolve(path), 0o755)
}

// Remove deletes a single file. Removing a missing file is not an error.
func (p *LocalProvider) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(p.resolve(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// localWriteCloser wraps the ".part" file and publishes it on Close.
type localWriteCloser struct {
	*os.File
	fullPath string
	partPath string
	metadata FileInfo
	done     bool
}

func (l *localWriteCloser) Close() error {
	if l.done {
		return nil
	}
	l.done = true

	if err := l.File.Sync(); err != nil {
		_ = l.File.Close()
		_ = os.Remove(l.partPath)
		return err
	}
	if err := l.File.Close(); err != nil {
		_ = os.Remove(l.partPath)
		return err
	}
	if err := os.Rename(l.partPath, l.fullPath); err != nil {
		_ = os.Remove(l.partPath)
		return err
	}

	if l.metadata != nil && !l.metadata.ModTime().IsZero() {
		// Ignore errors on applying timestamp
		_ = os.Chtimes(l.fullPath, time.Now(), l.metadata.ModTime())
	}
	return nil
}

func (l *localWriteCloser) Abort() error {
	if l.done {
		return nil
	}
	l.done = true
	_ = l.File.Close()
	if err := os.Remove(l.partPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
