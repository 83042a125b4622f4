package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

/*
All the functions here are wrappers around the ed25519 key objects of the
standard library. The federation protocol signs events with ed25519; key ids
have the form "ed25519:<version>" so that a server can rotate keys without
invalidating old signatures.
*/

// Algorithm is the only signing algorithm supported by the protocol.
const Algorithm = "ed25519"

// GenerateKey creates a new ed25519 key pair using the built-in pseudo-random
// generator rand.Reader.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// DumpPrivateKey exports a private key into a binary dump. Only the seed is
// dumped; the full key is recomputed on parse.
func DumpPrivateKey(priv ed25519.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Seed()
}

// ParsePrivateKey creates a private key from a seed dump produced by
// DumpPrivateKey.
func ParsePrivateKey(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid length, need %d bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
