package protocol

import "errors"

// Ingress errors: logged at the connection, never surfaced to callers.
var (
	ErrBadSignature = errors.New("bad signature")
	ErrBadID        = errors.New("event id does not match canonical hash")
)

// Validation errors: returned to callers before any network I/O.
var (
	ErrInvalidKind    = errors.New("invalid kind")
	ErrMissingDTag    = errors.New("addressable event requires exactly one d tag")
	ErrOversizedTag   = errors.New("tag exceeds 1 KB")
	ErrOversizedEvent = errors.New("event exceeds 256 KB")
	ErrSignFailed     = errors.New("signing failed")
)
