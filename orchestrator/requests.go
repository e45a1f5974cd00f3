package orchestrator

import (
	"strings"
	"time"

	"github.com/franksops/gorelay/config"
	"github.com/franksops/gorelay/relayerr"
	"github.com/franksops/gorelay/transport"
)

// Endpoint is one side of a relay. Relays authenticate by password.
type Endpoint struct {
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"`
	User       string `json:"user"`
	Password   string `json:"password"`
	RemotePath string `json:"remote_path"`
}

// RelayRequest copies Source.RemotePath on one server to
// Destination.RemotePath on another.
type RelayRequest struct {
	Source      Endpoint `json:"source"`
	Destination Endpoint `json:"destination"`
}

// KeyAuth is key-based access to a caller-named server.
type KeyAuth struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	User string `json:"user"`

	// PrivateKey is PEM/OpenSSH key material, or a path to a key file.
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase,omitempty"`

	// KnownHosts is the known_hosts file to verify against; empty uses the
	// configured one.
	KnownHosts string `json:"knownHosts,omitempty"`

	// TrustAll skips host key verification. Refused unless the server is
	// configured to allow it.
	TrustAll bool `json:"trustAll,omitempty"`
}

// UploadRequest uploads one local file.
type UploadRequest struct {
	KeyAuth
	LocalFile string `json:"localFile"`
	// RemotePath is the target file, or a directory to upload into.
	RemotePath string `json:"remotePath"`
}

// DownloadRequest downloads every zip in RemotePath into LocalDir.
type DownloadRequest struct {
	KeyAuth
	RemotePath string `json:"remotePath"`
	LocalDir   string `json:"localDir"`
}

func precondition(op, format string, args ...any) error {
	return relayerr.Errorf(relayerr.KindPrecondition, op, "", format, args...)
}

func missing(op string, fields map[string]string) error {
	var names []string
	for _, k := range []string{"host", "user", "password", "privateKey", "remotePath", "localFile", "localDir"} {
		if v, ok := fields[k]; ok && strings.TrimSpace(v) == "" {
			names = append(names, k)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return precondition(op, "missing %s", strings.Join(names, ", "))
}

func (e Endpoint) validate(side string) error {
	return missing(OpRelay+" "+side, map[string]string{
		"host":       e.Host,
		"user":       e.User,
		"password":   e.Password,
		"remotePath": e.RemotePath,
	})
}

// params builds connection parameters for a relay leg.
func (e Endpoint) params(defaultPort int, policy transport.HostKeyPolicy, timeout time.Duration) transport.Params {
	port := e.Port
	if port == 0 {
		port = defaultPort
	}
	return transport.Params{
		Host:     e.Host,
		Port:     port,
		User:     e.User,
		Password: e.Password,
		HostKey:  policy,
		Timeout:  timeout,
	}
}

// params builds connection parameters for a key-authenticated request.
func (k KeyAuth) params(defaultPort int, cfg *config.Config) (transport.Params, error) {
	port := k.Port
	if port == 0 {
		port = defaultPort
	}
	p := transport.Params{
		Host:       k.Host,
		Port:       port,
		User:       k.User,
		Passphrase: k.Passphrase,
		Timeout:    cfg.ConnectTimeout(),
	}

	if strings.Contains(k.PrivateKey, "PRIVATE KEY") {
		p.PrivateKey = []byte(k.PrivateKey)
	} else {
		p.PrivateKeyPath = k.PrivateKey
	}

	switch {
	case k.TrustAll && !cfg.Security.AllowTrustAllRequests:
		return p, precondition("request", "trustAll is not allowed by server configuration")
	case k.TrustAll:
		p.HostKey = transport.TrustAll()
	case k.KnownHosts != "":
		p.HostKey = transport.Verify(k.KnownHosts)
	default:
		p.HostKey = transport.Verify(cfg.CTS.KnownHosts)
	}
	return p, p.Validate()
}
