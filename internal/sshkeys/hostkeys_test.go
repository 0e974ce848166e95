package sshkeys

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func testHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	_, privPEM, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return signer.PublicKey()
}

var testRemote = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}

func TestNewHostKeyVerifier_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "known_hosts")

	if _, err := NewHostKeyVerifier(PolicyStrict, path); err != nil {
		t.Fatalf("NewHostKeyVerifier() error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("known_hosts not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("known_hosts mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestNewHostKeyVerifier_UnknownPolicy(t *testing.T) {
	if _, err := NewHostKeyVerifier("bogus", filepath.Join(t.TempDir(), "kh")); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestStrict_RejectsUnknownHost(t *testing.T) {
	v, err := NewHostKeyVerifier(PolicyStrict, filepath.Join(t.TempDir(), "known_hosts"))
	if err != nil {
		t.Fatalf("NewHostKeyVerifier() error: %v", err)
	}

	err = v.Callback()("example.com:22", testRemote, testHostKey(t))
	if !errors.Is(err, ErrUnknownHost) {
		t.Fatalf("expected ErrUnknownHost, got %v", err)
	}
}

func TestStrict_AcceptsKnownHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	key := testHostKey(t)
	line := knownhosts.Line([]string{knownhosts.Normalize("example.com:22")}, key)
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	v, err := NewHostKeyVerifier(PolicyStrict, path)
	if err != nil {
		t.Fatalf("NewHostKeyVerifier() error: %v", err)
	}
	if err := v.Callback()("example.com:22", testRemote, key); err != nil {
		t.Fatalf("known host rejected: %v", err)
	}
}

func TestTOFU_TrustsFirstKeyAndRejectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	v, err := NewHostKeyVerifier(PolicyTOFU, path)
	if err != nil {
		t.Fatalf("NewHostKeyVerifier() error: %v", err)
	}

	first := testHostKey(t)
	if err := v.Callback()("h:2222", testRemote, first); err != nil {
		t.Fatalf("first use rejected: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read known_hosts: %v", err)
	}
	if !strings.Contains(string(data), "[h]:2222") {
		t.Errorf("known_hosts missing trusted host, got %q", string(data))
	}

	// Same key again is accepted.
	if err := v.Callback()("h:2222", testRemote, first); err != nil {
		t.Fatalf("second use rejected: %v", err)
	}

	// A different key is a mismatch.
	err = v.Callback()("h:2222", testRemote, testHostKey(t))
	var mismatch *FingerprintMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *FingerprintMismatchError, got %v", err)
	}
	if mismatch.Actual == "" || len(mismatch.Expected) != 1 {
		t.Errorf("unexpected mismatch details: %+v", mismatch)
	}
}

func TestInsecure_AcceptsAnything(t *testing.T) {
	v, err := NewHostKeyVerifier(PolicyInsecure, "")
	if err != nil {
		t.Fatalf("NewHostKeyVerifier() error: %v", err)
	}
	if err := v.Callback()("anything:22", testRemote, testHostKey(t)); err != nil {
		t.Fatalf("insecure policy rejected key: %v", err)
	}
	if v.Policy() != PolicyInsecure {
		t.Errorf("Policy() = %q", v.Policy())
	}
}
