// Package snapshot persists execution environment images.
//
// An image is written once, after initialization and before the first
// invocation, and read back when a fresh process resumes from it:
//
//	image-<timestamp>-<sequence>.img
//	[magic:8 "SNAPFNIM"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (opaque payload, or AEAD ciphertext)
//	[checksum:32 SHA-256 of all bytes above]
//
// The header carries the build version and registry fingerprint in the clear
// so images can be listed and inspected without the encryption key. When a
// key is configured the payload is sealed with pkg/crypto/adaptive, using the
// image ID as associated data.
package snapshot
