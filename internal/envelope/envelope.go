// Package envelope implements password-derived authenticated encryption for
// secret material at rest, plus a canonical single-string serialization so
// encrypted payloads can be stored as one opaque column.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2-SHA256 iteration count. Deliberately slow:
	// this is the work factor an attacker pays per password guess.
	KDFIterations = 100_000

	keySize  = 32 // AES-256
	saltSize = 16
	ivSize   = 16 // 128-bit IV
	tagSize  = 16

	packDelimiter = ":"
	packSegments  = 4
)

var (
	// ErrDecrypt is returned for any wrong password or tampered payload. One
	// generic error on purpose: callers must not be able to tell which.
	ErrDecrypt = errors.New("invalid password or corrupted data")

	// ErrFormat is returned by Unpack for a string that is not a well-formed
	// packed envelope.
	ErrFormat = errors.New("malformed envelope")
)

// Envelope holds the four components of an encrypted payload.
type Envelope struct {
	Ciphertext []byte
	Salt       []byte
	IV         []byte
	AuthTag    []byte
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KDFIterations, keySize, sha256.New)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// Encrypt seals plaintext under a key derived from the password and a fresh
// random salt. A fresh random IV is generated per call.
func Encrypt(plaintext []byte, password string) (*Envelope, error) {
	if password == "" {
		return nil, fmt.Errorf("password must not be empty")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	aead, err := newGCM(password, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	// GCM appends the tag to the ciphertext; store it as its own field.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &Envelope{Ciphertext: ct, Salt: salt, IV: iv, AuthTag: tag}, nil
}

// Decrypt re-derives the key from the supplied password and the stored salt
// and opens the payload. It fails closed: any integrity failure yields
// ErrDecrypt and never partial plaintext.
func Decrypt(env *Envelope, password string) ([]byte, error) {
	if env == nil || len(env.Salt) != saltSize || len(env.IV) != ivSize || len(env.AuthTag) != tagSize {
		return nil, ErrDecrypt
	}
	aead, err := newGCM(password, env.Salt)
	if err != nil {
		return nil, ErrDecrypt
	}
	sealed := append(append([]byte{}, env.Ciphertext...), env.AuthTag...)
	plaintext, err := aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Pack serializes an envelope to the canonical salt:iv:tag:ciphertext form,
// each segment hex-encoded.
func Pack(env *Envelope) string {
	return strings.Join([]string{
		hex.EncodeToString(env.Salt),
		hex.EncodeToString(env.IV),
		hex.EncodeToString(env.AuthTag),
		hex.EncodeToString(env.Ciphertext),
	}, packDelimiter)
}

// Unpack parses a packed envelope. Any string that does not split into
// exactly four non-empty hex segments is rejected with ErrFormat.
func Unpack(packed string) (*Envelope, error) {
	parts := strings.Split(packed, packDelimiter)
	if len(parts) != packSegments {
		return nil, fmt.Errorf("%w: expected %d segments, got %d", ErrFormat, packSegments, len(parts))
	}
	raw := make([][]byte, packSegments)
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment", ErrFormat)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d is not hex", ErrFormat, i)
		}
		raw[i] = b
	}
	return &Envelope{Salt: raw[0], IV: raw[1], AuthTag: raw[2], Ciphertext: raw[3]}, nil
}

// EncryptPacked is a convenience wrapper producing the packed form directly.
func EncryptPacked(plaintext []byte, password string) (string, error) {
	env, err := Encrypt(plaintext, password)
	if err != nil {
		return "", err
	}
	return Pack(env), nil
}

// DecryptPacked unpacks and decrypts in one step. Format errors surface as
// ErrFormat; everything cryptographic surfaces as ErrDecrypt.
func DecryptPacked(packed, password string) ([]byte, error) {
	env, err := Unpack(packed)
	if err != nil {
		return nil, err
	}
	return Decrypt(env, password)
}
