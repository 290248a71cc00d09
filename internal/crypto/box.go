// Package crypto encrypts ledger keys and values at rest.
//
// A Box uses AES in CBC mode with PKCS#7 padding and a fixed key/IV pair, so
// the same plaintext always produces the same ciphertext. The ledger relies on
// that property: re-ingesting a field overwrites the existing hash field
// instead of adding a second one.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/dvloznov/taxledger/internal/apperr"
)

// Box is safe for concurrent use; it holds no mutable state after construction.
type Box struct {
	block cipher.Block
	iv    []byte
}

// NewBox builds a Box from raw key and IV bytes. The key must be 16, 24 or 32
// bytes long and the IV exactly one AES block.
func NewBox(key, iv []byte) (*Box, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("NewBox: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("NewBox: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	ivCopy := make([]byte, aes.BlockSize)
	copy(ivCopy, iv)
	return &Box{block: block, iv: ivCopy}, nil
}

// NewBoxFromBase64 decodes standard base64 key and IV strings.
func NewBoxFromBase64(key, iv string) (*Box, error) {
	k, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("NewBoxFromBase64: decode key: %w", err)
	}
	v, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("NewBoxFromBase64: decode iv: %w", err)
	}
	return NewBox(k, v)
}

// GenerateKey returns a random 128-bit key and IV, base64 encoded.
// Data encrypted with a generated pair is lost once the process exits unless
// the pair is persisted by the caller.
func GenerateKey() (key, iv string, err error) {
	k := make([]byte, 16)
	v := make([]byte, aes.BlockSize)
	if _, err := rand.Read(k); err != nil {
		return "", "", fmt.Errorf("GenerateKey: %w", err)
	}
	if _, err := rand.Read(v); err != nil {
		return "", "", fmt.Errorf("GenerateKey: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k), base64.StdEncoding.EncodeToString(v), nil
}

// Encrypt returns the base64 encoding of the padded ciphertext.
func (b *Box) Encrypt(plaintext string) (string, error) {
	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(b.block, b.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any input that was not produced by this Box
// yields an error wrapping apperr.ErrDecryption.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("Decrypt: base64: %w", apperr.ErrDecryption)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("Decrypt: ciphertext length %d: %w", len(raw), apperr.ErrDecryption)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(b.block, b.iv).CryptBlocks(out, raw)
	plain, ok := unpad(out, aes.BlockSize)
	if !ok {
		return "", fmt.Errorf("Decrypt: bad padding: %w", apperr.ErrDecryption)
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("Decrypt: invalid utf-8: %w", apperr.ErrDecryption)
	}
	return string(plain), nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data[:len(data):len(data)], bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, false
	}
	for _, c := range data[len(data)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
