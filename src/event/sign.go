package event

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/hearthnet/hearth/src/crypto/keys"
	"github.com/hearthnet/hearth/src/roomversion"
)

// KeyProvider hands out server signing keys. Implementations may cache and
// may reach out to the federation to fetch unknown keys.
type KeyProvider interface {
	SigningKey(ctx context.Context, serverName, keyID string) (ed25519.PublicKey, error)
}

// signableJSON returns the canonical redacted form over which signatures are
// computed: the redacted event minus event_id, signatures, and unsigned. The
// content hash stays in, binding the signature to the full body.
func (e *Event) signableJSON(rv roomversion.Version) ([]byte, error) {
	raw, err := e.Marshal()
	if err != nil {
		return nil, NewFormatError(fmt.Sprintf("unencodable event: %v", err))
	}

	redacted, err := RedactJSON(raw, rv)
	if err != nil {
		return nil, err
	}

	return CanonicalJSONWithout(redacted, "event_id", "signatures", "unsigned")
}

// Sign adds the server's signature to the event.
func (e *Event) Sign(rv roomversion.Version, serverName, keyID string, priv ed25519.PrivateKey) error {
	signable, err := e.signableJSON(rv)
	if err != nil {
		return err
	}

	if e.Signatures == nil {
		e.Signatures = map[string]map[string]string{}
	}
	if e.Signatures[serverName] == nil {
		e.Signatures[serverName] = map[string]string{}
	}
	e.Signatures[serverName][keyID] = keys.Sign(priv, signable)

	return nil
}

// VerifySignatures checks the signature of every server that signed the event
// and requires the sender's server to be among them. A key the provider
// cannot produce yields UnknownSigningKeyError, which callers treat as
// retryable; a failed check yields SignatureInvalidError, which is terminal.
func (e *Event) VerifySignatures(ctx context.Context, rv roomversion.Version, kp KeyProvider) error {
	signable, err := e.signableJSON(rv)
	if err != nil {
		return err
	}

	senderServer := ServerName(e.Sender)
	if _, ok := e.Signatures[senderServer]; !ok {
		return SignatureInvalidError{Server: senderServer, KeyID: "<absent>"}
	}

	for server, sigs := range e.Signatures {
		if len(sigs) == 0 {
			return SignatureInvalidError{Server: server, KeyID: "<absent>"}
		}
		for keyID, sig := range sigs {
			alg, _, err := keys.ParseKeyID(keyID)
			if err != nil || alg != keys.Algorithm {
				return SignatureInvalidError{Server: server, KeyID: keyID}
			}

			pub, err := kp.SigningKey(ctx, server, keyID)
			if err != nil || pub == nil {
				return UnknownSigningKeyError{Server: server, KeyID: keyID}
			}

			if !keys.Verify(pub, signable, sig) {
				return SignatureInvalidError{Server: server, KeyID: keyID}
			}
		}
	}

	return nil
}
