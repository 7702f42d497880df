package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the only key length accepted by either algorithm.
const KeySize = 32

// Algorithm names an AEAD construction.
type Algorithm string

const (
	AESGCM   Algorithm = "aes-256-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

var (
	ErrKeySize          = fmt.Errorf("adaptive: key must be %d bytes", KeySize)
	ErrUnknownAlgorithm = errors.New("adaptive: unknown algorithm")
	ErrTruncated        = errors.New("adaptive: sealed data truncated")
)

// Preferred returns the algorithm that is fastest on this host. The Go
// runtime uses hardware AES on amd64 and arm64.
func Preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x":
		return AESGCM
	default:
		return ChaCha20
	}
}

// Sealer encrypts and authenticates payloads. Output is nonce || ciphertext || tag.
type Sealer struct {
	alg  Algorithm
	aead cipher.AEAD
	rand io.Reader
}

// New returns a Sealer using the preferred algorithm.
func New(key []byte) (*Sealer, error) {
	return NewFor(key, Preferred())
}

// NewFor returns a Sealer for alg. Use it to open data sealed elsewhere.
func NewFor(key []byte, alg Algorithm) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AESGCM:
		var block cipher.Block
		if block, err = aes.NewCipher(key); err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case ChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if err != nil {
		return nil, err
	}
	return &Sealer{alg: alg, aead: aead, rand: rand.Reader}, nil
}

// Algorithm reports which construction this Sealer uses.
func (s *Sealer) Algorithm() Algorithm { return s.alg }

// Overhead is the number of bytes Seal adds to a payload.
func (s *Sealer) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

// Seal encrypts plaintext under a fresh random nonce, binding aad.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	out := make([]byte, n, n+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(s.rand, out); err != nil {
		return nil, fmt.Errorf("adaptive: nonce: %w", err)
	}
	return s.aead.Seal(out, out[:n], plaintext, aad), nil
}

// Open authenticates and decrypts data produced by Seal with the same aad.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrTruncated
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], aad)
}
