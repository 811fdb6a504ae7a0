// Package cryptox implements the encrypted secret store used for credential
// material at rest: AES-256 in CBC mode with a fresh random IV per call and
// PKCS#7 padding. The master key is kept in a memguard enclave and is only
// decrypted into locked memory for the duration of a single call.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
)

// KeySize is the required master key length (AES-256).
const KeySize = 32

// Cipher encrypts and decrypts secrets with a process-wide master key.
// A nil *Cipher is valid and fails every call with common.ErrCryptoUnavailable.
type Cipher struct {
	key *memguard.Enclave
}

// NewCipher validates the key and seals it into a memguard enclave.
//
// The key is copied before sealing, so the caller keeps ownership of its
// slice. A key that is absent or not exactly KeySize bytes long yields
// common.ErrCryptoUnavailable; the process is expected to stop at startup
// in that case.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrCryptoUnavailable, KeySize, len(key))
	}
	buf := make([]byte, KeySize)
	copy(buf, key)
	return &Cipher{key: memguard.NewEnclave(buf)}, nil
}

func (c *Cipher) block() (cipher.Block, func(), error) {
	if c == nil || c.key == nil {
		return nil, nil, common.ErrCryptoUnavailable
	}
	lb, err := c.key.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}
	b, err := aes.NewCipher(lb.Bytes())
	if err != nil {
		lb.Destroy()
		return nil, nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}
	return b, lb.Destroy, nil
}

// Encrypt returns IV || AES-CBC(PKCS7(plaintext)).
//
// Every call draws a new 16-byte IV from crypto/rand, so encrypting the same
// plaintext twice never yields the same output.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	block, release, err := c.block()
	if err != nil {
		return nil, err
	}
	defer release()

	padded := pad(plaintext, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt. Input shorter than two blocks, not aligned to the
// block size or carrying invalid padding is rejected.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	block, release, err := c.block()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("decrypt: invalid ciphertext length %d", len(data))
	}

	iv := data[:aes.BlockSize]
	body := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(body, data[aes.BlockSize:])

	return unpad(body, aes.BlockSize)
}

// EncryptString is a convenience wrapper for UTF-8 secrets.
func (c *Cipher) EncryptString(s string) ([]byte, error) {
	return c.Encrypt([]byte(s))
}

// DecryptString is a convenience wrapper for UTF-8 secrets.
func (c *Cipher) DecryptString(data []byte) (string, error) {
	b, err := c.Decrypt(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("decrypt: empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("decrypt: invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("decrypt: invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
