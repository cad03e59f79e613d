package gree

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
)

// Default keys and GCM parameters shared by every appliance.
const (
	DefaultLegacyKey  = "a3K8Bx%2r8Y7#xDh"
	DefaultCurrentKey = "{yxAHAY_Lm6pbC/<"

	gcmNonceHex = "5440784449675a516c5e6313"
	gcmAAD      = "qualcomm-test"
)

var gcmNonce, _ = hex.DecodeString(gcmNonceHex)

// CipherKind identifies a cipher family.
type CipherKind uint8

const (
	CipherLegacy CipherKind = iota + 1
	CipherCurrent
)

func (k CipherKind) String() string {
	switch k {
	case CipherLegacy:
		return "aes-128-ecb"
	case CipherCurrent:
		return "aes-128-gcm"
	default:
		return "unknown"
	}
}

// Cipher is a symmetric primitive bound to one key.
type Cipher interface {
	Kind() CipherKind
	Key() string
	SetKey(key string) error
	// Encrypt returns the ciphertext and, for authenticated ciphers, the tag.
	Encrypt(plaintext []byte) (ciphertext, tag []byte, err error)
	Decrypt(ciphertext, tag []byte) ([]byte, error)
}

// ECBCipher is the legacy AES-128-ECB cipher with PKCS#7 padding.
type ECBCipher struct {
	key   string
	block cipher.Block
}

// NewECBCipher creates a legacy cipher with the given key.
func NewECBCipher(key string) (*ECBCipher, error) {
	c := &ECBCipher{}
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ECBCipher) Kind() CipherKind { return CipherLegacy }
func (c *ECBCipher) Key() string      { return c.key }

func (c *ECBCipher) SetKey(key string) error {
	block, err := newBlock(key)
	if err != nil {
		return err
	}
	c.key = key
	c.block = block
	return nil
}

func (c *ECBCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		c.block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return out, nil, nil
}

func (c *ECBCipher) Decrypt(ciphertext, _ []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		c.block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return pkcs7Unpad(out, aes.BlockSize)
}

// GCMCipher is the current AES-128-GCM cipher. Nonce and AAD are fixed by the
// protocol; the 16-byte tag travels next to the ciphertext.
type GCMCipher struct {
	key  string
	aead cipher.AEAD
}

// NewGCMCipher creates a current-generation cipher with the given key.
func NewGCMCipher(key string) (*GCMCipher, error) {
	c := &GCMCipher{}
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GCMCipher) Kind() CipherKind { return CipherCurrent }
func (c *GCMCipher) Key() string      { return c.key }

func (c *GCMCipher) SetKey(key string) error {
	block, err := newBlock(key)
	if err != nil {
		return err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("gcm: %w", err)
	}
	c.key = key
	c.aead = aead
	return nil
}

func (c *GCMCipher) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	sealed := c.aead.Seal(nil, gcmNonce, plaintext, []byte(gcmAAD))
	split := len(sealed) - c.aead.Overhead()
	return sealed[:split], sealed[split:], nil
}

func (c *GCMCipher) Decrypt(ciphertext, tag []byte) ([]byte, error) {
	if len(tag) == 0 {
		return nil, ErrMissingTag
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	return c.aead.Open(nil, gcmNonce, sealed, []byte(gcmAAD))
}

func newBlock(key string) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("%w: want 16 bytes, got %d", ErrInvalidKey, len(key))
	}
	return aes.NewCipher([]byte(key))
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
