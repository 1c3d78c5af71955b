package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// EncryptedPrefix marks config string fields that hold an encrypted payload
// rather than a plaintext value.
const EncryptedPrefix = "enc:"

const payloadVersion = 1

var (
	// ErrWrongPassword is returned when the password cannot decrypt a payload.
	ErrWrongPassword = errors.New("wrong password")
	// ErrBadPayload indicates a malformed encrypted payload.
	ErrBadPayload = errors.New("malformed encrypted payload")
)

// payload is the serialized form of one encrypted value
type payload struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptString seals a value with AES-256-GCM under a scrypt-derived key
// and returns the storage form carrying the standard prefix. Empty values
// stay empty.
func EncryptString(value, password string) (string, error) {
	if value == "" {
		return "", nil
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	p := payload{
		Version:    payloadVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(value), nil)),
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DecryptString reverses EncryptString. The bool reports whether the value
// was actually encrypted; plaintext values pass through unchanged.
func DecryptString(value, password string) (string, bool, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.Version != payloadVersion {
		return "", true, fmt.Errorf("%w: unsupported version %d", ErrBadPayload, p.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", true, err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", true, fmt.Errorf("%w: bad nonce size", ErrBadPayload)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	return string(plaintext), true, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init gcm: %w", err)
	}
	return gcm, nil
}
