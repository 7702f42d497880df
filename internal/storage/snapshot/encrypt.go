package snapshot

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Encryption errors.
var (
	ErrKeyTooShort      = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrDecryptionFailed = errors.New("snapshot: decryption failed - wrong key or corrupted data")
)

const (
	// MinKeyLength is the minimum master key length.
	MinKeyLength = 16

	// ImageKeyLength is the derived image key length.
	ImageKeyLength = 32

	imageKeyInfo = "snapfn/image/v1"
)

// ParseKey decodes a hex master key and derives the image encryption key
// from it. An empty string returns a nil key (encryption disabled).
func ParseKey(hexKey string) ([]byte, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, nil
	}
	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encryption key is not hex: %w", err)
	}
	defer ZeroKey(master)
	return DeriveSubkey(master, imageKeyInfo, ImageKeyLength)
}

// DeriveSubkey derives a subkey from a master key using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("snapshot: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random master key of the given length, hex encoded.
func GenerateKey(length int) (string, error) {
	if length < MinKeyLength {
		return "", ErrKeyTooShort
	}

	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("snapshot: generate key: %w", err)
	}
	defer ZeroKey(key)
	return hex.EncodeToString(key), nil
}

// ZeroKey zeros a key in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
