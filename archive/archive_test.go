package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
)

func TestLocalArchiver_CopiesAndOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sent := filepath.Join(dir, "sent")
	src := filepath.Join(dir, "upload", "X.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("first"), 0o644))

	a := NewLocalArchiver(sent)
	require.NoError(t, a.Archive(ctx, src))

	got, err := os.ReadFile(filepath.Join(sent, "X.zip"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	// A second archive of the same name overwrites without error.
	require.NoError(t, os.WriteFile(src, []byte("second version"), 0o644))
	require.NoError(t, a.Archive(ctx, src))
	got, err = os.ReadFile(filepath.Join(sent, "X.zip"))
	require.NoError(t, err)
	assert.Equal(t, "second version", string(got))

	// Source is left in place.
	_, err = os.Stat(src)
	assert.NoError(t, err)

	files, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "X.zip", files[0].Name())
}

func TestLocalArchiver_MissingSource(t *testing.T) {
	a := NewLocalArchiver(filepath.Join(t.TempDir(), "sent"))
	err := a.Archive(context.Background(), filepath.Join(t.TempDir(), "gone.zip"))
	require.Error(t, err)
	assert.Equal(t, relayerr.KindLocalIO, relayerr.KindOf(err))
}

func TestLocalArchiver_UnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "sent")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))
	src := filepath.Join(dir, "X.zip")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	err := NewLocalArchiver(blocker).Archive(context.Background(), src)
	assert.Equal(t, relayerr.KindLocalIO, relayerr.KindOf(err))
}

func TestLocalArchiver_ListMissingDir(t *testing.T) {
	files, err := NewLocalArchiver(filepath.Join(t.TempDir(), "never")).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

type failingProvider struct{ provider.Provider }

func (failingProvider) OpenWrite(context.Context, string, provider.FileInfo) (io.WriteCloser, error) {
	return nil, errors.New("bucket unavailable")
}

func TestMirrorArchiver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "X.zip")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	logger, hook := test.NewNullLogger()
	exec := engine.NewExecutor(engine.NewBufferPool(0), nil, logger)
	mirrorDir := filepath.Join(dir, "mirror")
	require.NoError(t, os.MkdirAll(mirrorDir, 0o755))

	m := &MirrorArchiver{
		Primary: NewLocalArchiver(filepath.Join(dir, "sent")),
		Mirror:  provider.NewLocalProvider(mirrorDir),
		Exec:    exec,
		Logger:  logger,
	}
	require.NoError(t, m.Archive(ctx, src))

	got, err := os.ReadFile(filepath.Join(mirrorDir, "X.zip"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	files, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	// A broken mirror is logged, not fatal.
	hook.Reset()
	m.Mirror = failingProvider{provider.NewLocalProvider(mirrorDir)}
	require.NoError(t, m.Archive(ctx, src))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Archive mirror copy failed", hook.LastEntry().Message)
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), t.TempDir(), "", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalArchiver{}, a)

	_, err = New(context.Background(), t.TempDir(), "https://bucket/prefix", nil, nil)
	assert.Equal(t, relayerr.KindPrecondition, relayerr.KindOf(err))
}
