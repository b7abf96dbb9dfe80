package crypto

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// File layout:
//
//	magic (6) | nonce prefix (16) | sealed chunk ...
//
// Each chunk holds up to chunkSize plaintext bytes sealed with
// XChaCha20-Poly1305. The nonce is prefix || big-endian chunk counter and the
// additional data is header || final flag, so reordering, truncation and
// trailing garbage all fail authentication.
const (
	magic      = "OFFBK1"
	prefixSize = 16
	headerSize = len(magic) + prefixSize
	chunkSize  = 64 * 1024
)

var (
	ErrAuthentication = errors.New("ciphertext authentication failed: wrong key or corrupted data")
	ErrFormat         = errors.New("not an encrypted backup file")
	ErrTruncated      = errors.New("encrypted backup file is truncated")
)

// Encrypt reads plaintext from r and writes the encrypted stream to w.
func Encrypt(w io.Writer, r io.Reader, key *Key) error {
	aead, err := chacha20poly1305.NewX(key.bytes())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, magic)
	if _, err := io.ReadFull(rand.Reader, header[len(magic):]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	br := bufio.NewReaderSize(r, chunkSize)
	buf := make([]byte, chunkSize)
	sealed := make([]byte, 0, chunkSize+aead.Overhead())

	for counter := uint64(0); ; counter++ {
		n, rerr := io.ReadFull(br, buf)
		final := false
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			final = true
		case rerr != nil:
			return fmt.Errorf("failed to read plaintext: %w", rerr)
		default:
			final, err = atEOF(br)
			if err != nil {
				return fmt.Errorf("failed to read plaintext: %w", err)
			}
		}

		sealed = aead.Seal(sealed[:0], chunkNonce(header, counter), buf[:n], additionalData(header, final))
		if _, err := w.Write(sealed); err != nil {
			return fmt.Errorf("failed to write ciphertext: %w", err)
		}
		if final {
			return nil
		}
	}
}

// Decrypt verifies and decrypts the stream in r into w. On error w may have
// received a prefix of the plaintext; DecryptFile never exposes it.
func Decrypt(w io.Writer, r io.Reader, key *Key) error {
	aead, err := chacha20poly1305.NewX(key.bytes())
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrFormat
		}
		return fmt.Errorf("failed to read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return ErrFormat
	}

	sealedSize := chunkSize + aead.Overhead()
	br := bufio.NewReaderSize(r, sealedSize)
	buf := make([]byte, sealedSize)

	for counter := uint64(0); ; counter++ {
		n, rerr := io.ReadFull(br, buf)
		final := false
		switch {
		case rerr == io.EOF:
			return ErrTruncated
		case rerr == io.ErrUnexpectedEOF:
			final = true
		case rerr != nil:
			return fmt.Errorf("failed to read ciphertext: %w", rerr)
		default:
			final, err = atEOF(br)
			if err != nil {
				return fmt.Errorf("failed to read ciphertext: %w", err)
			}
		}
		if n < aead.Overhead() {
			return ErrTruncated
		}

		plain, err := aead.Open(buf[:0], chunkNonce(header, counter), buf[:n], additionalData(header, final))
		if err != nil {
			return ErrAuthentication
		}
		if _, err := w.Write(plain); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		if final {
			return nil
		}
	}
}

// EncryptFile writes the encrypted form of src to dst. dst is removed if
// encryption fails.
func EncryptFile(src, dst string, key *Key) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close dest file: %w", cerr)
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	bw := bufio.NewWriterSize(out, chunkSize)
	if err := Encrypt(bw, in, key); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush dest file: %w", err)
	}
	return nil
}

// DecryptFile decrypts src into dst. The plaintext is staged in a temporary
// sibling and renamed only after the whole stream authenticated, so dst
// never holds unverified data.
func DecryptFile(src, dst string, key *Key) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.partial")
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, chunkSize)
	if err := Decrypt(bw, in, key); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush dest file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close dest file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move plaintext into place: %w", err)
	}
	return nil
}

func atEOF(br *bufio.Reader) (bool, error) {
	_, err := br.Peek(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

func chunkNonce(header []byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, header[len(magic):])
	binary.BigEndian.PutUint64(nonce[prefixSize:], counter)
	return nonce
}

func additionalData(header []byte, final bool) []byte {
	ad := make([]byte, len(header)+1)
	copy(ad, header)
	if final {
		ad[len(header)] = 1
	}
	return ad
}
