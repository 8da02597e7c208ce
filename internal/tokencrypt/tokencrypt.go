// Package tokencrypt implements the shared-token file codec (C2): the
// access token is encrypted with AES-256-GCM under a fixed 32-byte key and
// handed off to co-located tool processes as base64(nonce ‖ ciphertext).
//
// The key is a deliberate trust boundary, not a secrecy guarantee — see
// the design note on this in the agent's documentation. It is exposed to
// command templates via the same literal the placeholder resolver uses
// for ${client.openframeSecret}, so the two packages must never diverge.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// SharedKey is the fixed 32-byte AES-256-GCM key shared between the agent
// and the tools it supervises. A future version should derive a per-host
// key sealed by the OS keystore instead of this literal (see design notes).
const SharedKey = "12345678901234567890123456789012"

const nonceSize = 12
const tagSize = 16

// ErrCiphertextTooShort is returned when decoding data shorter than a nonce.
var ErrCiphertextTooShort = errors.New("tokencrypt: ciphertext shorter than nonce")

// Encrypt encodes base64(nonce(12B) ‖ AES-256-GCM(key, nonce, plaintext)).
func Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher([]byte(SharedKey))
	if err != nil {
		return "", fmt.Errorf("tokencrypt: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokencrypt: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("tokencrypt: read nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt is the inverse of Encrypt. It is provided for tests and
// diagnostics; the agent's own steady-state flow only ever writes.
func Decrypt(encoded string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("tokencrypt: base64 decode: %w", err)
	}
	if len(combined) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	block, err := aes.NewCipher([]byte(SharedKey))
	if err != nil {
		return "", fmt.Errorf("tokencrypt: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("tokencrypt: new gcm: %w", err)
	}

	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("tokencrypt: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// WriteSharedToken encrypts token and whole-file-replaces path at 0600,
// the on-disk handoff consumed by co-located tool processes (§3, §6).
func WriteSharedToken(path, token string) error {
	encoded, err := Encrypt(token)
	if err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("tokencrypt: write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tokencrypt: replace %s: %w", path, err)
	}
	return nil
}

// CiphertextLen returns the expected base64-decoded length of an encrypted
// token of the given plaintext length: nonce + plaintext + GCM tag (§8).
func CiphertextLen(plaintextLen int) int {
	return nonceSize + plaintextLen + tagSize
}
