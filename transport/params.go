// Package transport owns a single authenticated SFTP connection.
//
// A Session is opened with Open, used by exactly one orchestrator run and
// closed on every exit path. Authentication is either by password or by
// private key, never both, and host keys are checked against a known_hosts
// file unless the caller explicitly opts into HostKeyTrustAll.
package transport

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/franksops/gorelay/relayerr"
)

// DefaultPort is the standard SSH port.
const DefaultPort = 22

// DefaultConnectTimeout bounds TCP connect plus the SSH handshake.
const DefaultConnectTimeout = 60 * time.Second

// HostKeyMode selects how the server's host key is checked.
type HostKeyMode string

const (
	// HostKeyVerify checks the host key against a known_hosts file.
	HostKeyVerify HostKeyMode = "verify"

	// HostKeyTrustAll accepts any host key. Only for non-production use.
	HostKeyTrustAll HostKeyMode = "trust-all"
)

// ParseHostKeyMode maps a configuration string to a HostKeyMode.
func ParseHostKeyMode(s string) (HostKeyMode, error) {
	switch HostKeyMode(strings.ToLower(strings.TrimSpace(s))) {
	case HostKeyVerify:
		return HostKeyVerify, nil
	case HostKeyTrustAll:
		return HostKeyTrustAll, nil
	}
	return "", relayerr.Errorf(relayerr.KindPrecondition, "config", "",
		"unknown host key policy %q (want %q or %q)", s, HostKeyVerify, HostKeyTrustAll)
}

// HostKeyPolicy is the host-key verification choice for one connection.
// The zero value is invalid: a policy must always be chosen explicitly.
type HostKeyPolicy struct {
	Mode           HostKeyMode
	KnownHostsPath string
}

// Verify returns a policy checking against the given known_hosts file.
func Verify(knownHostsPath string) HostKeyPolicy {
	return HostKeyPolicy{Mode: HostKeyVerify, KnownHostsPath: knownHostsPath}
}

// TrustAll returns a policy that accepts any host key.
func TrustAll() HostKeyPolicy {
	return HostKeyPolicy{Mode: HostKeyTrustAll}
}

// Params are the immutable connection parameters of one session.
type Params struct {
	Host string
	Port int
	User string

	// Password selects password authentication.
	Password string

	// PrivateKey (PEM/OpenSSH material) or PrivateKeyPath selects key authentication.
	PrivateKey     []byte
	PrivateKeyPath string
	Passphrase     string

	HostKey HostKeyPolicy

	// Timeout bounds connection establishment; zero means DefaultConnectTimeout.
	Timeout time.Duration
}

// Address returns host:port, defaulting the port to 22.
func (p Params) Address() string {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

func (p Params) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultConnectTimeout
	}
	return p.Timeout
}

func (p Params) usesKey() bool {
	return len(p.PrivateKey) > 0 || p.PrivateKeyPath != ""
}

// Validate checks the parameters before any network call is made.
func (p Params) Validate() error {
	fail := func(format string, args ...any) error {
		return relayerr.Errorf(relayerr.KindPrecondition, "validate", p.Host, format, args...)
	}

	if strings.TrimSpace(p.Host) == "" {
		return fail("host is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fail("port %d out of range", p.Port)
	}
	if strings.TrimSpace(p.User) == "" {
		return fail("user is required")
	}

	switch {
	case p.Password != "" && p.usesKey():
		return fail("password and private key authentication are mutually exclusive")
	case p.Password == "" && !p.usesKey():
		return fail("either a password or a private key is required")
	case len(p.PrivateKey) > 0 && p.PrivateKeyPath != "":
		return fail("private key material and private key path are mutually exclusive")
	}

	switch p.HostKey.Mode {
	case HostKeyVerify:
		if p.HostKey.KnownHostsPath == "" {
			return fail("known_hosts path is required when verifying host keys")
		}
	case HostKeyTrustAll:
	case "":
		return fail("host key policy must be set explicitly")
	default:
		return fail("unknown host key policy %q", p.HostKey.Mode)
	}
	return nil
}

// Redacted returns a copy safe to log.
func (p Params) Redacted() Params {
	if p.Password != "" {
		p.Password = "***"
	}
	if len(p.PrivateKey) > 0 {
		p.PrivateKey = []byte("***")
	}
	if p.Passphrase != "" {
		p.Passphrase = "***"
	}
	return p
}
