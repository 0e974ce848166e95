// Package sshkeys turns user-supplied key material into SSH credentials and
// decides which remote host keys are trusted.
//
// # Private keys
//
// [LoadKey] accepts the raw bytes of an uploaded private key file and an
// optional passphrase. It tries a fixed, ordered list of key types (RSA, DSA,
// ECDSA, Ed25519) and returns a signer for the first type that parses.
// Encrypted keys need the passphrase; unencrypted keys ignore it. When every
// type fails the result is a *[KeyLoadError] that matches [ErrKeyLoad].
//
// Key material is never written anywhere: the signer lives only as long as
// the connect attempt that uses it.
//
// # Host keys
//
// [HostKeyVerifier] wraps an OpenSSH known_hosts file with one of three
// policies:
//
//   - strict: only hosts already present in known_hosts are accepted.
//   - tofu: unknown hosts are appended to known_hosts on first use; a changed
//     key is rejected.
//   - insecure: any host key is accepted.
//
// A mismatch is reported as a *[FingerprintMismatchError].
package sshkeys
