// Package crypto provides the key material and symmetric primitives for DPM.
//
// Design goals:
//   - One slow, deterministic derivation from the master password (PBKDF2-HMAC-SHA3-256)
//   - AEAD encryption via XChaCha20-Poly1305 with a random nonce per message
//   - Key expansion via HKDF-SHA256
//   - Explicit wiping of the password derivative
package crypto
