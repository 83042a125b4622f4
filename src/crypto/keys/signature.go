package keys

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/hearthnet/hearth/src/common"
)

// KeyID returns the protocol identifier of a public key: the "ed25519"
// algorithm tag followed by a short version string derived from the key
// material itself.
func KeyID(pub ed25519.PublicKey) string {
	return fmt.Sprintf("%s:%s", Algorithm, common.EncodeURLSafe(pub)[:8])
}

// ParseKeyID splits a key id into its algorithm and version parts.
func ParseKeyID(keyID string) (algorithm, version string, err error) {
	parts := strings.SplitN(keyID, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed key id: %s", keyID)
	}
	return parts[0], parts[1], nil
}

// Sign signs the data with the private key and returns the unpadded base64
// encoding of the signature.
func Sign(priv ed25519.PrivateKey, data []byte) string {
	return common.EncodeUnpadded(ed25519.Sign(priv, data))
}

// Verify verifies that an encoded signature, as produced by Sign, is a valid
// signature of the data by the owner of the private key associated with the
// provided public key.
func Verify(pub ed25519.PublicKey, data []byte, sig string) bool {
	raw, err := common.DecodeUnpadded(sig)
	if err != nil {
		return false
	}
	if len(raw) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, raw)
}
