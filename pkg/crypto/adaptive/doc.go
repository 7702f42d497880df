// Package adaptive seals byte payloads with an AEAD chosen for the host.
//
// Preferred returns AES-256-GCM on CPUs with AES instructions and
// ChaCha20-Poly1305 elsewhere. Persisted ciphertext must record the
// Algorithm it was sealed with, because the host that opens it may prefer
// a different one.
//
//	s, err := adaptive.New(key)
//	sealed, err := s.Seal(plaintext, aad)
//	plain, err := s.Open(sealed, aad)
package adaptive
