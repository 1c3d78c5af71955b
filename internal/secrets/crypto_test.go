package secrets

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encrypted, err := EncryptString("sk-live-abc123", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encrypted, EncryptedPrefix) {
		t.Fatalf("encrypted value missing prefix: %q", encrypted)
	}
	if strings.Contains(encrypted, "sk-live-abc123") {
		t.Error("ciphertext leaks the plaintext")
	}

	plain, wasEncrypted, err := DecryptString(encrypted, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !wasEncrypted {
		t.Error("round trip must report the value was encrypted")
	}
	if plain != "sk-live-abc123" {
		t.Errorf("plain = %q", plain)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	encrypted, err := EncryptString("secret", "right")
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = DecryptString(encrypted, "wrong")
	if !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
}

func TestDecryptPlaintextPassesThrough(t *testing.T) {
	plain, wasEncrypted, err := DecryptString("not-encrypted", "any")
	if err != nil {
		t.Fatal(err)
	}
	if wasEncrypted {
		t.Error("plaintext must not be reported as encrypted")
	}
	if plain != "not-encrypted" {
		t.Errorf("plain = %q", plain)
	}
}

func TestEncryptEmptyValue(t *testing.T) {
	encrypted, err := EncryptString("", "password")
	if err != nil {
		t.Fatal(err)
	}
	if encrypted != "" {
		t.Errorf("empty value must stay empty, got %q", encrypted)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	first, err := EncryptString("same-value", "password")
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncryptString("same-value", "password")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two encryptions of the same value must differ")
	}
}

func TestDecryptGarbagePayload(t *testing.T) {
	if _, _, err := DecryptString(EncryptedPrefix+"not-base64!!!", "password"); err == nil {
		t.Fatal("garbage payload must error")
	}
}
