package sshkeys

import (
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrKeyLoad matches every *KeyLoadError.
var ErrKeyLoad = errors.New("cannot load private key")

// KeyLoadError reports that no supported key type could parse the key file.
// Attempts holds one error per key type, in the order they were tried.
type KeyLoadError struct {
	Attempts []error
}

func (e *KeyLoadError) Error() string {
	msgs := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v: bad format, wrong passphrase or unsupported key type (%s)", ErrKeyLoad, strings.Join(msgs, "; "))
}

func (e *KeyLoadError) Is(target error) bool {
	return target == ErrKeyLoad
}

// keyParser parses one key type.
type keyParser struct {
	name  string
	match func(key interface{}) bool
}

// keyParsers is tried in order; the first parser that accepts the key wins.
var keyParsers = []keyParser{
	{name: "RSA", match: func(k interface{}) bool { _, ok := k.(*rsa.PrivateKey); return ok }},
	{name: "DSA", match: func(k interface{}) bool { _, ok := k.(*dsa.PrivateKey); return ok }},
	{name: "ECDSA", match: func(k interface{}) bool { _, ok := k.(*ecdsa.PrivateKey); return ok }},
	{name: "Ed25519", match: func(k interface{}) bool {
		switch k.(type) {
		case ed25519.PrivateKey, *ed25519.PrivateKey:
			return true
		}
		return false
	}},
}

// LoadKey parses raw private key bytes into an ssh.Signer. An empty
// passphrase means none was supplied.
func LoadKey(raw []byte, passphrase string) (ssh.Signer, error) {
	key, decodeErr := decodeRawKey(raw, passphrase)

	attempts := make([]error, 0, len(keyParsers))
	for _, p := range keyParsers {
		if decodeErr != nil {
			attempts = append(attempts, fmt.Errorf("%s: %w", p.name, decodeErr))
			continue
		}
		if !p.match(key) {
			attempts = append(attempts, fmt.Errorf("%s: not a %s key", p.name, p.name))
			continue
		}
		signer, err := ssh.NewSignerFromKey(key)
		if err != nil {
			attempts = append(attempts, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		log.Printf("[sshkeys] loaded %s private key (%s)", p.name, ssh.FingerprintSHA256(signer.PublicKey()))
		return signer, nil
	}
	return nil, &KeyLoadError{Attempts: attempts}
}

// decodeRawKey decodes PEM or OpenSSH key text. A passphrase supplied for an
// unencrypted key is ignored.
func decodeRawKey(raw []byte, passphrase string) (interface{}, error) {
	if len(raw) == 0 {
		return nil, errors.New("key file is empty")
	}
	if passphrase == "" {
		return ssh.ParseRawPrivateKey(raw)
	}

	key, err := ssh.ParseRawPrivateKeyWithPassphrase(raw, []byte(passphrase))
	if err == nil {
		return key, nil
	}
	if plain, plainErr := ssh.ParseRawPrivateKey(raw); plainErr == nil {
		return plain, nil
	}
	return nil, err
}

// GenerateKeyPair generates an ED25519 key pair and returns the PEM-encoded
// private key and OpenSSH-format public key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	publicKey = ssh.MarshalAuthorizedKey(sshPub)

	return publicKey, privateKeyPEM, nil
}
