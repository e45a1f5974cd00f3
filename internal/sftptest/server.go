// Package sftptest runs an in-process SSH server with the sftp subsystem for
// tests. It serves the real local filesystem, so tests use absolute paths
// under t.TempDir() as remote paths.
package sftptest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Server is a running test SFTP server.
type Server struct {
	Host     string
	Port     int
	User     string
	Password string

	// ClientKeyPEM is an OpenSSH private key accepted for User.
	ClientKeyPEM []byte

	HostKey ssh.PublicKey

	ln        net.Listener
	clientPub ssh.PublicKey

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Start launches a server on 127.0.0.1 with a random port. It is stopped by t.Cleanup.
func Start(t testing.TB) *Server {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	sshClientPub, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatalf("client public key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Host:         "127.0.0.1",
		Port:         ln.Addr().(*net.TCPAddr).Port,
		User:         "relay",
		Password:     "s3cret",
		ClientKeyPEM: pem.EncodeToMemory(block),
		HostKey:      hostSigner.PublicKey(),
		ln:           ln,
		clientPub:    sshClientPub,
		conns:        make(map[net.Conn]struct{}),
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, errDenied
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == s.User && bytes.Equal(key.Marshal(), s.clientPub.Marshal()) {
				return nil, nil
			}
			return nil, errDenied
		},
	}
	cfg.AddHostKey(hostSigner)

	s.wg.Add(1)
	go s.serve(cfg)
	t.Cleanup(s.Close)
	return s
}

type deniedError struct{}

func (deniedError) Error() string { return "permission denied" }

var errDenied = deniedError{}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// WriteKnownHosts writes a known_hosts file trusting this server and returns its path.
func (s *Server) WriteKnownHosts(t testing.TB) string {
	t.Helper()
	return s.writeKnownHostsFor(t, s.HostKey)
}

// WriteWrongKnownHosts writes a known_hosts file holding a different key for this server.
func (s *Server) WriteWrongKnownHosts(t testing.TB) string {
	t.Helper()
	_, other, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(other)
	if err != nil {
		t.Fatal(err)
	}
	return s.writeKnownHostsFor(t, signer.PublicKey())
}

// WriteHashedKnownHosts writes a known_hosts file trusting this server under a
// hashed host entry, the way ssh-keygen -H stores them.
func (s *Server) WriteHashedKnownHosts(t testing.TB) string {
	t.Helper()
	key := string(bytes.TrimSpace(ssh.MarshalAuthorizedKey(s.HostKey)))
	return s.writeKnownHostsLine(t, knownhosts.HashHostname(s.Addr())+" "+key)
}

func (s *Server) writeKnownHostsFor(t testing.TB, key ssh.PublicKey) string {
	return s.writeKnownHostsLine(t, knownhosts.Line([]string{knownhosts.Normalize(s.Addr())}, key))
}

func (s *Server) writeKnownHostsLine(t testing.TB, line string) string {
	p := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(p, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// DropConnections closes every live client connection, simulating a network drop.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve(cfg *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn, cfg)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handleConn(raw net.Conn, cfg *ssh.ServerConfig) {
	defer raw.Close()
	sc, chans, reqs, err := ssh.NewServerConn(raw, cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		c, in, err := ch.Accept()
		if err != nil {
			continue
		}
		go handleSession(c, in)
	}
}

func handleSession(ch ssh.Channel, in <-chan *ssh.Request) {
	defer ch.Close()
	for req := range in {
		// Payload is a length-prefixed subsystem name.
		if req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(in)
			srv, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = srv.Serve()
			_ = srv.Close()
			return
		}
		_ = req.Reply(false, nil)
	}
}
