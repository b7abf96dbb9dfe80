package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adapt/offsite/internal/domain"
)

var testSalt = []byte("0123456789abcdef")

func testKey(t *testing.T, secret string) *Key {
	t.Helper()
	k, err := DeriveKey(domain.NewSecret(secret), testSalt)
	require.NoError(t, err)
	return k
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := testKey(t, "correct horse")
	b := testKey(t, "correct horse")
	assert.True(t, a.Equal(b))

	other := testKey(t, "correct horse!")
	assert.False(t, a.Equal(other))

	salted, err := DeriveKey(domain.NewSecret("correct horse"), []byte("fedcba9876543210"))
	require.NoError(t, err)
	assert.False(t, a.Equal(salted))
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	_, err := DeriveKey(domain.NewSecret(""), testSalt)
	assert.True(t, errors.Is(err, domain.ErrKeyDerivation))

	_, err = DeriveKey(domain.NewSecret("s3cret-value"), []byte("short"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrKeyDerivation))
	assert.NotContains(t, err.Error(), "s3cret-value")
}

func TestDecodeSalt(t *testing.T) {
	salt, err := DecodeSalt("MDEyMzQ1Njc4OWFiY2RlZg==")
	require.NoError(t, err)
	assert.Equal(t, testSalt, salt)

	salt, err = DecodeSalt("MDEyMzQ1Njc4OWFiY2RlZg")
	require.NoError(t, err)
	assert.Equal(t, testSalt, salt)

	_, err = DecodeSalt("not base64 !!")
	assert.True(t, errors.Is(err, domain.ErrKeyDerivation))

	_, err = DecodeSalt("c2hvcnQ=")
	assert.True(t, errors.Is(err, domain.ErrKeyDerivation))

	_, err = DecodeSalt("")
	assert.True(t, errors.Is(err, domain.ErrKeyDerivation))
}

func TestKeyIsRedacted(t *testing.T) {
	k := testKey(t, "secret")
	assert.Contains(t, fmt.Sprintf("%v", k), "REDACTED")
	assert.Contains(t, fmt.Sprintf("%#v", k), "REDACTED")

	k.Wipe()
	assert.True(t, k.Equal(&Key{}))
}

func encryptBytes(t *testing.T, key *Key, plain []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Encrypt(&out, bytes.NewReader(plain), key))
	return out.Bytes()
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t, "round trip")

	sizes := []int{1, 100, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 17}
	for _, size := range sizes {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			plain := make([]byte, size)
			_, err := rand.Read(plain)
			require.NoError(t, err)

			cipher := encryptBytes(t, key, plain)
			if size >= 64 {
				assert.NotContains(t, string(cipher), string(plain[:64]))
			}

			var got bytes.Buffer
			require.NoError(t, Decrypt(&got, bytes.NewReader(cipher), key))
			assert.Equal(t, plain, got.Bytes())
		})
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key := testKey(t, "nonce")
	plain := []byte("same plaintext")
	assert.NotEqual(t, encryptBytes(t, key, plain), encryptBytes(t, key, plain))
}

func TestTamperDetection(t *testing.T) {
	key := testKey(t, "tamper")
	plain := bytes.Repeat([]byte("row data;"), 20)
	cipher := encryptBytes(t, key, plain)

	for i := range cipher {
		mutated := append([]byte(nil), cipher...)
		mutated[i] ^= 0x01

		var out bytes.Buffer
		err := Decrypt(&out, bytes.NewReader(mutated), key)
		require.Errorf(t, err, "flipping byte %d was not detected", i)
	}
}

func TestTamperDetectionMultiChunk(t *testing.T) {
	key := testKey(t, "tamper")
	plain := make([]byte, 2*chunkSize+5)
	cipher := encryptBytes(t, key, plain)

	for _, i := range []int{0, headerSize - 1, headerSize, headerSize + chunkSize, len(cipher) - 1} {
		mutated := append([]byte(nil), cipher...)
		mutated[i] ^= 0x80
		assert.Error(t, Decrypt(&bytes.Buffer{}, bytes.NewReader(mutated), key), "offset %d", i)
	}
}

func TestTruncationAndTrailingData(t *testing.T) {
	key := testKey(t, "truncate")
	plain := make([]byte, 2*chunkSize)
	cipher := encryptBytes(t, key, plain)

	sealedChunk := chunkSize + 16
	atBoundary := cipher[:headerSize+sealedChunk]
	assert.ErrorIs(t, Decrypt(&bytes.Buffer{}, bytes.NewReader(atBoundary), key), ErrAuthentication)

	assert.ErrorIs(t, Decrypt(&bytes.Buffer{}, bytes.NewReader(cipher[:headerSize]), key), ErrTruncated)
	assert.ErrorIs(t, Decrypt(&bytes.Buffer{}, bytes.NewReader(cipher[:3]), key), ErrFormat)

	trailing := append(append([]byte(nil), cipher...), 0x00)
	assert.Error(t, Decrypt(&bytes.Buffer{}, bytes.NewReader(trailing), key))
}

func TestWrongKey(t *testing.T) {
	cipher := encryptBytes(t, testKey(t, "right"), []byte("payload"))
	err := Decrypt(&bytes.Buffer{}, bytes.NewReader(cipher), testKey(t, "wrong"))
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t, "files")

	src := filepath.Join(dir, "dump.sql.gz")
	require.NoError(t, os.WriteFile(src, []byte("CREATE TABLE t1 (id int);"), 0o644))

	enc := domain.EncryptedPath(src)
	require.NoError(t, EncryptFile(src, enc, key))

	_, err := os.Stat(src)
	require.NoError(t, err, "plaintext must be retained")

	out := filepath.Join(dir, "restored.sql.gz")
	require.NoError(t, DecryptFile(enc, out, key))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t1 (id int);", string(got))
}

func TestDecryptFileLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.encrypted")
	require.NoError(t, os.WriteFile(src, encryptBytes(t, testKey(t, "a"), []byte("x")), 0o600))

	out := filepath.Join(dir, "a")
	err := DecryptFile(src, out, testKey(t, "b"))
	require.ErrorIs(t, err, ErrAuthentication)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.encrypted", entries[0].Name())
}
