package transport

import (
	"errors"
	"fmt"
	"os"

	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"

	"github.com/franksops/gorelay/relayerr"
)

// authMethods returns the single auth method selected by p.
func authMethods(p Params) ([]ssh.AuthMethod, error) {
	if p.Password != "" {
		return []ssh.AuthMethod{
			ssh.Password(p.Password),
			// Some servers only offer keyboard-interactive for passwords.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = p.Password
				}
				return answers, nil
			}),
		}, nil
	}

	pem := p.PrivateKey
	if len(pem) == 0 {
		b, err := os.ReadFile(p.PrivateKeyPath)
		if err != nil {
			return nil, relayerr.New(relayerr.KindAuth, "load key", p.PrivateKeyPath, err)
		}
		pem = b
	}
	signer, err := loadSigner(pem, p.Passphrase)
	if err != nil {
		return nil, relayerr.New(relayerr.KindAuth, "load key", p.PrivateKeyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// loadSigner parses a private key with an optional passphrase.
func loadSigner(pem []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(pem)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("private key is encrypted; a passphrase is required")
	}
	return nil, err
}

// hostKeyVerifier builds the verifier for policy, plus the host key
// algorithms on file for addr so the handshake negotiates a key type that can
// actually be checked. Trust-all is only ever returned when the policy names it.
func hostKeyVerifier(policy HostKeyPolicy, addr string) (ssh.HostKeyCallback, []string, error) {
	switch policy.Mode {
	case HostKeyTrustAll:
		return ssh.InsecureIgnoreHostKey(), nil, nil
	case HostKeyVerify:
		if _, err := os.Stat(policy.KnownHostsPath); err != nil {
			return nil, nil, relayerr.New(relayerr.KindPrecondition, "known_hosts", policy.KnownHostsPath, err)
		}
		db, err := knownhosts.NewDB(policy.KnownHostsPath)
		if err != nil {
			return nil, nil, relayerr.New(relayerr.KindAuth, "known_hosts", policy.KnownHostsPath, err)
		}
		return db.HostKeyCallback(), db.HostKeyAlgorithms(addr), nil
	}
	return nil, nil, relayerr.Errorf(relayerr.KindPrecondition, "known_hosts", "", "host key policy must be set explicitly")
}
