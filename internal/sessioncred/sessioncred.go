// Package sessioncred implements the opaque, server-decryptable session
// credential: a wrapper around a user's literal password that lets a backend
// process recover the password at an arbitrary later time (for example the
// trade monitor closing a trade while the user is offline) without the server
// ever storing the password itself.
package sessioncred

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalid is returned for any token that cannot be decoded or decrypted.
var ErrInvalid = errors.New("invalid session credential")

// Issuer mints and recovers session credentials for a fixed server secret.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an issuer around the server-wide secret.
func NewIssuer(serverSecret string) (*Issuer, error) {
	if serverSecret == "" {
		return nil, fmt.Errorf("server secret must not be empty")
	}
	return &Issuer{secret: []byte(serverSecret)}, nil
}

// key derives the per-user encryption key as a one-way hash of the server
// secret and the user ID. The key is deterministic per user by design: there
// is no per-issuance randomness, so ANY process holding the server secret can
// recover the password from ANY credential ever issued for that user. That is
// the contract the unattended monitor relies on; rotating the server secret
// is the lever that invalidates all outstanding credentials.
func (i *Issuer) key(userID string) []byte {
	h := sha256.New()
	h.Write(i.secret)
	h.Write([]byte(userID))
	return h.Sum(nil)
}

func (i *Issuer) aead(userID string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(i.key(userID))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Issue encrypts the password under the user's derived key with a random IV
// and returns base64(IV || ciphertext).
func (i *Issuer) Issue(password, userID string) (string, error) {
	if password == "" || userID == "" {
		return "", fmt.Errorf("password and user id are required")
	}
	aead, err := i.aead(userID)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	sealed := aead.Seal(iv, iv, []byte(password), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Recover reverses Issue. Any decoding or cryptographic failure yields
// ErrInvalid, never a partial result.
func (i *Issuer) Recover(token, userID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalid
	}
	aead, err := i.aead(userID)
	if err != nil {
		return "", ErrInvalid
	}
	if len(raw) <= aead.NonceSize() {
		return "", ErrInvalid
	}
	iv, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	password, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrInvalid
	}
	return string(password), nil
}
