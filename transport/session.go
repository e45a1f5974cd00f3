package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/franksops/gorelay/provider"
	"github.com/franksops/gorelay/relayerr"
)

// ensure interface is implemented
var _ provider.Provider = (*Session)(nil)

// State is the lifecycle state of a Session.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrSessionClosed is returned by any operation on a closed session.
var ErrSessionClosed = errors.New("sftp session is closed")

// Session owns one live authenticated SFTP connection. It is not safe for
// concurrent transfers; each orchestrator run opens its own.
type Session struct {
	addr   string
	user   string
	logger logrus.FieldLogger

	sshClient  *ssh.Client
	sftpClient *sftp.Client

	mu    sync.Mutex
	state State
	cwd   string
}

// Open dials, authenticates and starts the SFTP subsystem. Connection
// establishment is bounded by p.Timeout.
func Open(ctx context.Context, p Params, logger logrus.FieldLogger) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	addr := p.Address()
	log := logger.WithFields(logrus.Fields{"host": addr, "user": p.User})

	auths, err := authMethods(p)
	if err != nil {
		return nil, err
	}
	verify, algos, err := hostKeyVerifier(p.HostKey, addr)
	if err != nil {
		return nil, err
	}

	// Remember a host-key rejection so it can be reported as an auth failure
	// whatever wrapping the handshake applies.
	var hostKeyErr error
	cfg := &ssh.ClientConfig{
		User: p.User,
		Auth: auths,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := verify(hostname, remote, key); err != nil {
				hostKeyErr = err
				return err
			}
			return nil
		},
		HostKeyAlgorithms: algos,
		Timeout:           p.timeout(),
	}

	log.Debug("Dialing SFTP server")
	d := net.Dialer{Timeout: p.timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, relayerr.New(relayerr.KindConnect, "dial", addr, err)
	}

	// The handshake shares the connect deadline.
	_ = conn.SetDeadline(time.Now().Add(p.timeout()))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, classifyHandshake(addr, hostKeyErr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(c, chans, reqs)
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, relayerr.New(relayerr.KindConnect, "sftp subsystem", addr, err)
	}

	s := &Session{
		addr:       addr,
		user:       p.User,
		logger:     log,
		sshClient:  sshClient,
		sftpClient: sftpClient,
		state:      StateOpen,
	}
	if wd, err := sftpClient.Getwd(); err == nil {
		s.cwd = wd
	} else {
		log.WithError(err).Debug("Server did not report a working directory")
	}

	log.Info("SFTP session opened")
	return s, nil
}

func classifyHandshake(addr string, hostKeyErr, err error) error {
	if hostKeyErr != nil {
		return relayerr.New(relayerr.KindAuth, "host key", addr, hostKeyErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return relayerr.New(relayerr.KindConnect, "handshake", addr, err)
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return relayerr.New(relayerr.KindAuth, "authenticate", addr, err)
	}
	return relayerr.New(relayerr.KindConnect, "handshake", addr, err)
}

// Addr returns the host:port this session is connected to.
func (s *Session) Addr() string { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) client() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, ErrSessionClosed
	}
	return s.sftpClient, nil
}

// resolve turns a relative remote path into one under the working directory.
func (s *Session) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	s.mu.Lock()
	cwd := s.cwd
	s.mu.Unlock()
	if cwd == "" {
		return p
	}
	return path.Join(cwd, p)
}

// check maps err to kind and closes the session when the connection is gone.
func (s *Session) check(kind relayerr.Kind, op, p string, err error) error {
	if err == nil {
		return nil
	}
	if connectionLost(err) {
		s.logger.WithError(err).Warn("SFTP connection lost")
		s.Close()
	}
	return relayerr.Wrap(kind, op, p, err)
}

func connectionLost(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// List returns the entries of a remote directory. An empty directory is not an error.
func (s *Session) List(ctx context.Context, dir string) ([]provider.FileInfo, error) {
	c, err := s.client()
	if err != nil {
		return nil, relayerr.New(relayerr.KindList, "ls", dir, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := s.resolve(dir)
	entries, err := c.ReadDir(resolved)
	if err != nil {
		return nil, s.check(relayerr.KindList, "ls", resolved, err)
	}

	infos := make([]provider.FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, provider.WrapOSFileInfo(e))
	}
	return infos, nil
}

// Stat returns metadata for a remote path.
func (s *Session) Stat(ctx context.Context, p string) (provider.FileInfo, error) {
	c, err := s.client()
	if err != nil {
		return nil, relayerr.New(relayerr.KindTransfer, "stat", p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := s.resolve(p)
	info, err := c.Stat(resolved)
	if err != nil {
		return nil, s.check(relayerr.KindTransfer, "stat", resolved, err)
	}
	return provider.WrapOSFileInfo(info), nil
}

// OpenRead opens a remote file for streaming reads.
func (s *Session) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	c, err := s.client()
	if err != nil {
		return nil, relayerr.New(relayerr.KindTransfer, "get", p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := s.resolve(p)
	f, err := c.Open(resolved)
	if err != nil {
		return nil, s.check(relayerr.KindTransfer, "get", resolved, err)
	}
	return f, nil
}

// OpenWrite creates or truncates a remote file. The upload is confirmed once
// Close returns nil; Abort removes the partial remote file.
func (s *Session) OpenWrite(ctx context.Context, p string, _ provider.FileInfo) (io.WriteCloser, error) {
	c, err := s.client()
	if err != nil {
		return nil, relayerr.New(relayerr.KindTransfer, "put", p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolved := s.resolve(p)
	f, err := c.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, s.check(relayerr.KindTransfer, "put", resolved, err)
	}
	return &remoteWriter{f: f, session: s, path: resolved}, nil
}

// Get streams a remote file into w.
func (s *Session) Get(ctx context.Context, remotePath string, w io.Writer) (int64, error) {
	rc, err := s.OpenRead(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	if err != nil {
		return n, s.check(relayerr.KindTransfer, "get", remotePath, err)
	}
	return n, nil
}

// Put streams r into a remote file, replacing any existing file.
func (s *Session) Put(ctx context.Context, r io.Reader, remotePath string) (int64, error) {
	wc, err := s.OpenWrite(ctx, remotePath, nil)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(wc, r)
	if err != nil {
		_ = wc.(provider.Aborter).Abort()
		return n, s.check(relayerr.KindTransfer, "put", remotePath, err)
	}
	if err := wc.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Chdir changes the session's working directory after checking that dir exists.
// On failure the working directory is unchanged.
func (s *Session) Chdir(ctx context.Context, dir string) error {
	info, err := s.Stat(ctx, dir)
	if err != nil {
		return relayerr.Wrap(relayerr.KindTransfer, "cd", dir, err)
	}
	if !info.IsDir() {
		return relayerr.Errorf(relayerr.KindTransfer, "cd", dir, "not a directory")
	}

	resolved := s.resolve(dir)
	s.mu.Lock()
	s.cwd = resolved
	s.mu.Unlock()
	return nil
}

// Getwd returns the session's working directory, or "" if the server never reported one.
func (s *Session) Getwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Close releases the connection. It is idempotent and never fails: secondary
// errors are logged.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil && !connectionLost(err) {
			s.logger.WithError(err).Warn("Error closing SFTP client")
		}
	}
	if s.sshClient != nil {
		if err := s.sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.WithError(err).Warn("Error closing SSH connection")
		}
	}
	s.logger.Info("SFTP session closed")
	return nil
}

// remoteWriter holds the sftp.File in a field rather than embedding it so
// that its ReadFrom is not promoted and callers' copy buffers stay in effect.
type remoteWriter struct {
	f       *sftp.File
	session *Session
	path    string
	done    bool
}

func (w *remoteWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, w.session.check(relayerr.KindTransfer, "put", w.path, err)
	}
	return n, nil
}

func (w *remoteWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.session.check(relayerr.KindTransfer, "put", w.path, w.f.Close())
}

func (w *remoteWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	c, err := w.session.client()
	if err != nil {
		return err
	}
	if err := c.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
