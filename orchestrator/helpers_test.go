package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gorelay/archive"
	"github.com/franksops/gorelay/config"
	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
	"github.com/franksops/gorelay/transport"
)

// fakeSession serves the local filesystem as if it were remote.
type fakeSession struct {
	*provider.LocalProvider
	addr string

	mu        sync.Mutex
	cwd       string
	closes    int
	readErr   error
	listErr   error
	failWrite map[string]bool
}

func (s *fakeSession) List(ctx context.Context, dir string) ([]provider.FileInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	entries, err := s.LocalProvider.List(ctx, dir)
	if err != nil {
		return nil, relayerr.New(relayerr.KindList, "ls", dir, err)
	}
	return entries, nil
}

func (s *fakeSession) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.LocalProvider.OpenRead(ctx, p)
}

func (s *fakeSession) OpenWrite(ctx context.Context, p string, m provider.FileInfo) (io.WriteCloser, error) {
	if s.failWrite[path.Base(p)] {
		return nil, relayerr.Errorf(relayerr.KindTransfer, "put", p, "permission denied")
	}
	return s.LocalProvider.OpenWrite(ctx, p, m)
}

func (s *fakeSession) Chdir(_ context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return relayerr.New(relayerr.KindTransfer, "cd", dir, err)
	}
	if !info.IsDir() {
		return relayerr.Errorf(relayerr.KindTransfer, "cd", dir, "not a directory")
	}
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Getwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

func (s *fakeSession) Addr() string { return s.addr }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeDialer hands out fakeSessions and records every dial.
type fakeDialer struct {
	mu       sync.Mutex
	loginDir string
	dialed   []transport.Params
	sessions []*fakeSession

	dialErr   map[string]error
	readErr   map[string]error
	listErr   map[string]error
	failWrite map[string]bool
}

func (d *fakeDialer) Dial(_ context.Context, p transport.Params) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, p)
	if err := d.dialErr[p.Host]; err != nil {
		return nil, err
	}
	s := &fakeSession{
		LocalProvider: provider.NewLocalProvider(""),
		addr:          p.Address(),
		cwd:           d.loginDir,
		readErr:       d.readErr[p.Host],
		listErr:       d.listErr[p.Host],
		failWrite:     d.failWrite,
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dials() []transport.Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]transport.Params(nil), d.dialed...)
}

func (d *fakeDialer) hosts() []string {
	var out []string
	for _, p := range d.dials() {
		out = append(out, p.Host)
	}
	return out
}

func (d *fakeDialer) requireAllClosedOnce(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.sessions {
		require.Equal(t, 1, s.closeCount(), "session %d must be closed exactly once", i)
	}
}

type fixture struct {
	cfg    *config.Config
	dialer *fakeDialer
	orch   *Orchestrator
	hook   *test.Hook
	store  *memStore

	// Local directories.
	upload, download, sent, staging string
	// "Remote" directories.
	remoteUp, remoteDown, login string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	mk := func(parts ...string) string {
		p := filepath.Join(append([]string{root}, parts...)...)
		require.NoError(t, os.MkdirAll(p, 0o755))
		return p
	}

	f := &fixture{
		upload:     mk("local", "upload"),
		download:   filepath.Join(root, "local", "download"),
		sent:       filepath.Join(root, "local", "sent"),
		staging:    mk("local", "staging"),
		remoteUp:   mk("remote", "incoming"),
		remoteDown: mk("remote", "outgoing"),
		login:      mk("remote", "home"),
	}

	cfg := config.Default()
	cfg.CTS.Host = "cts.example.com"
	cfg.CTS.User = "relay"
	cfg.CTS.PrivateKeyPath = "/keys/id_ed25519"
	cfg.CTS.KnownHosts = "/etc/ssh/known_hosts"
	cfg.CTS.UploadPort = 4022
	cfg.CTS.UploadPath = f.remoteUp
	cfg.CTS.DownloadPath = f.remoteDown
	cfg.Local.UploadPath = f.upload
	cfg.Local.DownloadPath = f.download
	cfg.Local.SentPath = f.sent
	cfg.Local.StagingPath = f.staging
	cfg.Relay.KnownHosts = "/etc/ssh/known_hosts"
	f.cfg = cfg

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook
	f.store = newMemStore()

	f.dialer = &fakeDialer{loginDir: f.login}
	exec := engine.NewExecutor(engine.NewBufferPool(4096), engine.NewJobTracker(f.store, engine.DefaultCheckpointConfig), logger)
	f.orch = New(cfg, f.dialer, exec, archive.NewLocalArchiver(f.sent), logger, opts...)
	return f
}

func write(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func read(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}
