package types

import "errors"

var (
	// ErrNotFound is returned when a document does not exist in the store
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the resource conflicts (e.g. update of old revision)
	ErrConflict = errors.New("conflict")

	// ErrBadRequest for malformed store requests
	ErrBadRequest = errors.New("bad request")

	// ErrInternal (for unhandled exceptions)
	ErrInternal = errors.New("internal error")

	// ErrDecryption is returned when an envelope cannot be opened: unknown
	// key version, failed authentication tag or malformed envelope bytes.
	// The credential is unusable; callers must not treat it as empty.
	ErrDecryption = errors.New("envelope decryption failed")

	// ErrUnknownKeyVersion is returned by Encrypt when no master key is
	// registered for the requested version
	ErrUnknownKeyVersion = errors.New("no master key registered for version")

	// ErrUnsupportedScheme is returned when an exchange maps to no registered signing scheme
	ErrUnsupportedScheme = errors.New("unsupported signing scheme")

	// ErrMissingFactor is returned when a required secondary factor
	// (passphrase, memo) is absent from the resolved credential
	ErrMissingFactor = errors.New("missing credential factor")

	// ErrKeyInUse is returned when retiring a master key version that
	// stored envelopes still reference
	ErrKeyInUse = errors.New("master key version still referenced by envelopes")
)
