package sshproxy

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"
)

// Target identifies a remote endpoint. Two targets are the same only when
// all three fields are equal; hosts are not resolved or normalized.
type Target struct {
	Username string
	Host     string
	Port     int
}

// String renders the target as user@host:port, the form used in transcript
// prompts and messages.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%d", t.Username, t.Host, t.Port)
}

// Addr returns the host:port dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Credentials is the raw credential material submitted with one request.
type Credentials struct {
	KeyPEM     []byte
	Passphrase string
	Password   string
}

// Empty reports whether neither a key nor a password was supplied.
func (c Credentials) Empty() bool {
	return len(c.KeyPEM) == 0 && c.Password == ""
}

// Credential is what a Dialer authenticates with. When Signer is set only
// public key authentication is offered.
type Credential struct {
	Signer   ssh.Signer
	Password string
}

func (c Credential) authMethods() []ssh.AuthMethod {
	if c.Signer != nil {
		return []ssh.AuthMethod{ssh.PublicKeys(c.Signer)}
	}
	return []ssh.AuthMethod{ssh.Password(c.Password)}
}
