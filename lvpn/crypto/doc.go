// Package crypto provides the symmetric primitives behind the tunnel frame codec.
//
// Design goals:
//   - AES-256-CBC with a fresh random IV per frame and PKCS#7 padding
//   - Encrypt-then-MAC (HMAC-SHA256, truncated) so a wrong key is always detected
//   - Key derivation via HKDF-SHA256 for sub-keys and fingerprints
//   - Constant-time comparisons where secrets are involved
package crypto
