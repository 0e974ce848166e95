package sshkeys

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Host key policies.
const (
	PolicyStrict   = "strict"
	PolicyTOFU     = "tofu"
	PolicyInsecure = "insecure"
)

// ErrUnknownHost is returned under the strict policy for hosts missing from
// known_hosts.
var ErrUnknownHost = errors.New("host key is not in known_hosts")

// FingerprintMismatchError is returned when a host presents a key that differs
// from the one recorded in known_hosts. This may indicate a MITM attack.
type FingerprintMismatchError struct {
	Host     string
	Expected []string
	Actual   string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("SSH host key fingerprint mismatch for %s: expected %v, got %s (possible MITM attack)", e.Host, e.Expected, e.Actual)
}

// HostKeyVerifier checks remote host keys against a known_hosts file.
type HostKeyVerifier struct {
	policy string
	path   string

	mu       sync.Mutex
	callback ssh.HostKeyCallback
}

// NewHostKeyVerifier loads known_hosts from path for the given policy. The
// file (and its directory) is created empty when missing.
func NewHostKeyVerifier(policy, path string) (*HostKeyVerifier, error) {
	v := &HostKeyVerifier{policy: policy, path: path}
	switch policy {
	case PolicyInsecure:
		log.Printf("[sshkeys] WARNING: host key verification disabled, any remote host key is accepted")
		return v, nil
	case PolicyStrict, PolicyTOFU:
	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}

	if err := ensureFile(path); err != nil {
		return nil, err
	}
	if err := v.reload(); err != nil {
		return nil, err
	}
	return v, nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return fmt.Errorf("create known_hosts: %w", err)
	}
	return f.Close()
}

// reload re-reads known_hosts. Caller must not hold v.mu.
func (v *HostKeyVerifier) reload() error {
	cb, err := knownhosts.New(v.path)
	if err != nil {
		return fmt.Errorf("load known_hosts %s: %w", v.path, err)
	}
	v.mu.Lock()
	v.callback = cb
	v.mu.Unlock()
	return nil
}

// Policy returns the configured policy name.
func (v *HostKeyVerifier) Policy() string {
	return v.policy
}

// Callback returns the ssh.HostKeyCallback implementing the policy.
func (v *HostKeyVerifier) Callback() ssh.HostKeyCallback {
	if v.policy == PolicyInsecure {
		return ssh.InsecureIgnoreHostKey()
	}
	return v.check
}

func (v *HostKeyVerifier) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.mu.Lock()
	cb := v.callback
	v.mu.Unlock()

	err := cb(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) {
		return err
	}
	if len(keyErr.Want) > 0 {
		expected := make([]string, len(keyErr.Want))
		for i, k := range keyErr.Want {
			expected[i] = ssh.FingerprintSHA256(k.Key)
		}
		return &FingerprintMismatchError{
			Host:     hostname,
			Expected: expected,
			Actual:   ssh.FingerprintSHA256(key),
		}
	}

	if v.policy != PolicyTOFU {
		return fmt.Errorf("%w: %s (%s)", ErrUnknownHost, hostname, ssh.FingerprintSHA256(key))
	}
	return v.trust(hostname, remote, key)
}

// trust appends the host key to known_hosts and reloads the file.
func (v *HostKeyVerifier) trust(hostname string, remote net.Addr, key ssh.PublicKey) error {
	addrs := []string{knownhosts.Normalize(hostname)}
	if remote != nil {
		if ra := knownhosts.Normalize(remote.String()); ra != addrs[0] {
			addrs = append(addrs, ra)
		}
	}

	v.mu.Lock()
	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		v.mu.Unlock()
		return fmt.Errorf("open known_hosts: %w", err)
	}
	_, werr := fmt.Fprintln(f, knownhosts.Line(addrs, key))
	cerr := f.Close()
	v.mu.Unlock()
	if werr != nil {
		return fmt.Errorf("write known_hosts: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close known_hosts: %w", cerr)
	}

	log.Printf("[sshkeys] trusted new host key for %s (%s)", hostname, ssh.FingerprintSHA256(key))
	return v.reload()
}
