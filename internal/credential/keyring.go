// Package credential stores inbox authentication secrets. Secrets live in
// the system keyring when one is available and fall back to an encrypted
// file otherwise. Every lookup can also be supplied through an INBOXCTL_*
// environment variable so scripted runs never block on a prompt.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "inboxctl"

// AuthKeyName is the keyring entry holding the HMAC authentication key
// used when fetching an inbox by custom user identifier.
const AuthKeyName = "inbox-auth-key"

// filePasswordVar protects the encrypted-file fallback. When unset a
// fixed machine-local password is used instead of prompting.
const filePasswordVar = "INBOXCTL_KEYRING_PASSWORD"

// ErrNotFound is returned by Get when no value is stored under a key.
var ErrNotFound = errors.New("credential not found")

// envNameFor maps a credential key to its environment override,
// e.g. "inbox-auth-key" becomes INBOXCTL_INBOX_AUTH_KEY.
func envNameFor(key string) string {
	return "INBOXCTL_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func filePassword(_ string) (string, error) {
	if pw := os.Getenv(filePasswordVar); pw != "" {
		return pw, nil
	}
	return serviceName + "-file-key", nil
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.FileBackend,
		},
		FileDir:          "~/.config/inboxctl/credentials",
		FilePasswordFunc: filePassword,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key. An environment override wins
// over the keyring.
func Get(key string) (string, error) {
	if v := os.Getenv(envNameFor(key)); v != "" {
		return v, nil
	}

	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a stored credential. Deleting a key that was never
// stored is not an error.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
