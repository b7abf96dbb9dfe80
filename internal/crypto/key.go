// Package crypto derives backup keys from a long-term secret and encrypts
// backup artifacts with an authenticated stream format.
package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/adapt/offsite/internal/domain"
)

const (
	KeySize  = 32
	SaltSize = 16

	// Argon2id cost, matching libsodium's "interactive" limits.
	argonTime    = 2
	argonMemory  = 64 * 1024
	argonThreads = 1
)

// Key is a derived symmetric key. It prints redacted.
type Key struct {
	b [KeySize]byte
}

func (k *Key) String() string {
	return "crypto.Key{[REDACTED]}"
}

func (k *Key) GoString() string {
	return k.String()
}

// Wipe zeroes the key material.
func (k *Key) Wipe() {
	for i := range k.b {
		k.b[i] = 0
	}
}

func (k *Key) bytes() []byte {
	return k.b[:]
}

// Equal compares two keys; intended for tests and diagnostics.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	var diff byte
	for i := range k.b {
		diff |= k.b[i] ^ other.b[i]
	}
	return diff == 0
}

// DeriveKey turns secret and salt into a key with Argon2id. It is
// deterministic.
func DeriveKey(secret domain.Secret, salt []byte) (*Key, error) {
	if secret.Empty() {
		return nil, domain.NewError(domain.KindKeyDerivation, "secret is empty", nil)
	}
	if len(salt) != SaltSize {
		return nil, domain.NewError(domain.KindKeyDerivation,
			fmt.Sprintf("salt must be %d bytes, got %d", SaltSize, len(salt)), nil)
	}

	raw := argon2.IDKey([]byte(secret.Reveal()), salt, argonTime, argonMemory, argonThreads, KeySize)
	k := &Key{}
	copy(k.b[:], raw)
	for i := range raw {
		raw[i] = 0
	}
	return k, nil
}

// DecodeSalt parses the base64 salt carried in configuration. Standard and
// URL alphabets, padded or not, are accepted.
func DecodeSalt(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, domain.NewError(domain.KindKeyDerivation, "salt is empty", nil)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			if len(b) != SaltSize {
				return nil, domain.NewError(domain.KindKeyDerivation,
					fmt.Sprintf("salt must decode to %d bytes, got %d", SaltSize, len(b)), nil)
			}
			return b, nil
		}
	}
	return nil, domain.NewError(domain.KindKeyDerivation, "salt is not valid base64", nil)
}

// DeriveKeyFromConfig decodes salt text and derives the key.
func DeriveKeyFromConfig(secret domain.Secret, saltText string) (*Key, error) {
	salt, err := DecodeSalt(saltText)
	if err != nil {
		return nil, err
	}
	return DeriveKey(secret, salt)
}
