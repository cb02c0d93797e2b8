package keyring

import (
	"errors"
	"testing"

	gokeyring "github.com/zalando/go-keyring"
)

func TestSetAndGet(t *testing.T) {
	gokeyring.MockInit()

	tests := []struct {
		secret Secret
		value  string
	}{
		{SecretDB, "postgres://guardian@localhost:5432/guardian?sslmode=disable"},
		{SecretGemini, "test-api-key"},
	}

	for _, tt := range tests {
		t.Run(string(tt.secret), func(t *testing.T) {
			if err := Set(tt.secret, tt.value); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, err := Get(tt.secret)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got != tt.value {
				t.Errorf("Get() = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestSecretsAreSeparate(t *testing.T) {
	gokeyring.MockInit()
	_ = Delete(SecretGemini)

	if err := Set(SecretDB, "postgres://localhost/guardian"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := Get(SecretGemini); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(gemini) error = %v, want ErrNotFound", err)
	}
}

func TestSetEmpty(t *testing.T) {
	gokeyring.MockInit()
	if err := Set(SecretDB, ""); err == nil {
		t.Error("Set() with empty value should fail")
	}
}

func TestDelete(t *testing.T) {
	gokeyring.MockInit()

	if err := Set(SecretGemini, "k"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Delete(SecretGemini); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := Get(SecretGemini); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := Delete(SecretGemini); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestParseSecret(t *testing.T) {
	for _, name := range []string{"db", "gemini"} {
		if _, err := ParseSecret(name); err != nil {
			t.Errorf("ParseSecret(%q) error = %v", name, err)
		}
	}
	if _, err := ParseSecret("aws"); err == nil {
		t.Error("ParseSecret(aws) should fail")
	}
}

func TestIsAvailable(t *testing.T) {
	gokeyring.MockInit()
	if !IsAvailable() {
		t.Error("IsAvailable() = false, want true in mock mode")
	}
}
