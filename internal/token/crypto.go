package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	_storagePrefix    = "ENC:v1:"
	_storageDelimiter = ":"
)

var ErrNotEncrypted = errors.New("value is not in encrypted storage format")

// Cipher encrypts account credentials at rest with AES-GCM. The key is an
// explicit configuration value handed in by the caller; the stored format is
// "ENC:v1:<base64 nonce>:<base64 ciphertext>".
type Cipher struct {
	key []byte
}

func NewCipher(key string) (*Cipher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("empty encryption key")
	}
	return &Cipher{key: normalizeKey(key)}, nil
}

// normalizeKey accepts base64, hex or raw key material and settles on a
// valid AES key length, hashing anything else down to 32 bytes.
func normalizeKey(value string) []byte {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if raw, err := decode(value); err == nil {
			switch len(raw) {
			case 16, 24, 32:
				return raw
			}
		}
	}

	sum := sha256.Sum256([]byte(value))
	return sum[:]
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return _storagePrefix +
		base64.StdEncoding.EncodeToString(nonce) + _storageDelimiter +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (c *Cipher) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsEncrypted(value) {
		return "", ErrNotEncrypted
	}

	payload := strings.TrimPrefix(value, _storagePrefix)
	parts := strings.SplitN(payload, _storageDelimiter, 2)
	if len(parts) != 2 {
		return "", errors.New("invalid encrypted storage format")
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: can't decode nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: can't decode ciphertext", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length: want %d, got %d", gcm.NonceSize(), len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: can't decrypt value", err)
	}

	return string(plaintext), nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, _storagePrefix)
}
