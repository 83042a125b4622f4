package common

import "encoding/base64"

// The federation protocol encodes hashes and signatures as unpadded standard
// base64, and content-derived event ids as unpadded url-safe base64.

// EncodeUnpadded returns the unpadded standard base64 encoding of b.
func EncodeUnpadded(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

// DecodeUnpadded converts an unpadded standard base64 string to a byte slice.
func DecodeUnpadded(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

// EncodeURLSafe returns the unpadded url-safe base64 encoding of b.
func EncodeURLSafe(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeURLSafe converts an unpadded url-safe base64 string to a byte slice.
func DecodeURLSafe(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
