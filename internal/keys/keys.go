// Package keys manages the watcher's ed25519 keypair used to reach
// provisioned hosts.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/perchlabs/perch/internal/errors"
)

const (
	privateKeyName = "id_ed25519"
	publicKeyName  = "id_ed25519.pub"
	keyComment     = "perch-watcher"
)

// PrivateKeyPath returns the watcher private key location under dir.
func PrivateKeyPath(dir string) string {
	return filepath.Join(dir, privateKeyName)
}

// PublicKeyPath returns the watcher public key location under dir.
func PublicKeyPath(dir string) string {
	return filepath.Join(dir, publicKeyName)
}

// Ensure guarantees a usable watcher keypair under dir and returns the
// authorized_keys line for the public half. A missing pair is
// generated; a missing or stale public file is rederived from the
// private key, which stays the source of truth.
func Ensure(dir string) (string, error) {
	data, err := os.ReadFile(PrivateKeyPath(dir))
	if os.IsNotExist(err) {
		return generate(dir)
	}
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to read watcher private key", "check permissions on the keys directory")
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "watcher private key is unreadable", "remove the key files to regenerate the pair")
	}
	line := authorizedLine(signer.PublicKey())

	existing, err := os.ReadFile(PublicKeyPath(dir))
	if err != nil || strings.TrimSpace(string(existing)) != line {
		if err := os.WriteFile(PublicKeyPath(dir), []byte(line+"\n"), 0o644); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to write watcher public key", "check permissions on the keys directory")
		}
	}
	return line, nil
}

func generate(dir string) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to generate watcher key", "")
	}

	block, err := ssh.MarshalPrivateKey(priv, keyComment)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to encode watcher private key", "")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to create keys directory", "check permissions on the data directory")
	}
	if err := os.WriteFile(PrivateKeyPath(dir), pem.EncodeToMemory(block), 0o600); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to write watcher private key", "check permissions on the keys directory")
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to encode watcher public key", "")
	}
	line := authorizedLine(sshPub)
	if err := os.WriteFile(PublicKeyPath(dir), []byte(line+"\n"), 0o644); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrKeys, "failed to write watcher public key", "check permissions on the keys directory")
	}
	return line, nil
}

func authorizedLine(key ssh.PublicKey) string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))) + " " + keyComment
}
