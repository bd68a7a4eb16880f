// Package signing builds and checks the message digests used by the payment gateways.
//
// Every function hashes the exact bytes it is given. Callers must pass the raw values the
// gateway sent (or will receive); re-serialising a field changes the digest.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of payload keyed by secret.
func HMACSHA256Hex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 reports whether candidate is the HMAC-SHA256 of payload under secret.
// An empty secret or candidate never verifies.
func VerifyHMACSHA256(payload []byte, secret, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if secret == "" || candidate == "" {
		return false
	}
	expected := HMACSHA256Hex(payload, secret)
	return hmac.Equal([]byte(expected), []byte(candidate))
}

// SHA512Hex returns the lowercase hex SHA-512 digest of payload.
func SHA512Hex(payload string) string {
	sum := sha512.Sum512([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifySHA512 compares the SHA-512 of payload with candidate, ignoring hex case.
func VerifySHA512(payload, candidate string) bool {
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" {
		return false
	}
	return hmac.Equal([]byte(SHA512Hex(payload)), []byte(candidate))
}

// PipeJoin concatenates parts with "|" separators. Empty parts are kept so fixed-arity
// layouts survive.
func PipeJoin(parts ...string) string {
	return strings.Join(parts, "|")
}
