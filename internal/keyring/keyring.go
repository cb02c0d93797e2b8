// Package keyring stores guardian secrets in the OS keyring.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/julianstephens/guardian/internal/constants"
)

var (
	ErrNotFound = errors.New("secret not found in keyring")
	// ErrKeyringUnavailable is returned when the OS keyring cannot be reached
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

// Secret names one stored credential.
type Secret string

const (
	// SecretDB is the PostgreSQL connection string.
	SecretDB Secret = "db"
	// SecretGemini is the Gemini API key used by the text generator.
	SecretGemini Secret = "gemini"
)

// ParseSecret maps a CLI name to a Secret.
func ParseSecret(name string) (Secret, error) {
	switch Secret(name) {
	case SecretDB, SecretGemini:
		return Secret(name), nil
	}
	return "", fmt.Errorf("unknown secret %q (expected db or gemini)", name)
}

func (s Secret) user() string {
	if s == SecretGemini {
		return constants.GeminiKeyringUser
	}
	return constants.DefaultKeyringUser
}

// Get returns the stored value or ErrNotFound.
func Get(s Secret) (string, error) {
	v, err := keyring.Get(constants.AppName, s.user())
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return v, nil
}

func Set(s Secret, value string) error {
	if value == "" {
		return fmt.Errorf("%s secret cannot be empty", s)
	}
	if err := keyring.Set(constants.AppName, s.user(), value); err != nil {
		return fmt.Errorf("failed to store %s secret in keyring: %w", s, err)
	}
	return nil
}

func Delete(s Secret) error {
	if err := keyring.Delete(constants.AppName, s.user()); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete %s secret from keyring: %w", s, err)
	}
	return nil
}

// IsAvailable is a best-effort probe: a read that fails with anything but
// ErrNotFound means there is no usable keyring.
func IsAvailable() bool {
	_, err := keyring.Get(constants.AppName, "test-availability")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
