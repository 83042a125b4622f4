package event

import "fmt"

// FormatError reports a structural violation in an event: bad grammar,
// oversized fields, malformed references. Format errors are terminal; the
// event can never become valid.
type FormatError struct {
	msg string
}

// NewFormatError creates a new FormatError
func NewFormatError(msg string) FormatError {
	return FormatError{msg: msg}
}

// Error implements the error interface
func (e FormatError) Error() string {
	return fmt.Sprintf("format: %s", e.msg)
}

// IsFormatError checks that an error is of type FormatError.
func IsFormatError(err error) bool {
	_, ok := err.(FormatError)
	return ok
}

// HashMismatchError reports that an event's declared content hash does not
// match the hash recomputed over its canonical form.
type HashMismatchError struct {
	Declared string
	Computed string
}

// Error implements the error interface
func (e HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch: declared %s, computed %s", e.Declared, e.Computed)
}

// IsHashMismatch checks that an error is of type HashMismatchError.
func IsHashMismatch(err error) bool {
	_, ok := err.(HashMismatchError)
	return ok
}

// SignatureInvalidError reports a signature that fails verification with a
// known key. It is terminal.
type SignatureInvalidError struct {
	Server string
	KeyID  string
}

// Error implements the error interface
func (e SignatureInvalidError) Error() string {
	return fmt.Sprintf("invalid signature from %s (%s)", e.Server, e.KeyID)
}

// IsSignatureInvalid checks that an error is of type SignatureInvalidError.
func IsSignatureInvalid(err error) bool {
	_, ok := err.(SignatureInvalidError)
	return ok
}

// UnknownSigningKeyError reports that a signing key could not be obtained.
// Unlike SignatureInvalidError it is retryable: the key may be fetched later.
type UnknownSigningKeyError struct {
	Server string
	KeyID  string
}

// Error implements the error interface
func (e UnknownSigningKeyError) Error() string {
	return fmt.Sprintf("unknown signing key %s for %s", e.KeyID, e.Server)
}

// IsUnknownSigningKey checks that an error is of type UnknownSigningKeyError.
func IsUnknownSigningKey(err error) bool {
	_, ok := err.(UnknownSigningKeyError)
	return ok
}
