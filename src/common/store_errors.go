package common

import "fmt"

// StoreErrType classifies store errors so that callers can react to specific
// conditions without string matching.
type StoreErrType uint32

const (
	// KeyNotFound ...
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// ConflictingStatus signals an attempt to move an event's acceptance
	// status backwards.
	ConflictingStatus
	// SnapshotExists signals an attempt to overwrite a write-once state
	// snapshot with a different value.
	SnapshotExists
	// UnknownRoom ...
	UnknownRoom
	// Empty ...
	Empty
)

// StoreErr is the error type returned by all Store implementations.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a new StoreErr
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case ConflictingStatus:
		m = "Conflicting Status"
	case SnapshotExists:
		m = "Snapshot Exists"
	case UnknownRoom:
		m = "Unknown Room"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
