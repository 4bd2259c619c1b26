package heap

import "errors"

var (
	// ErrOutOfMemory is returned when an allocation cannot be satisfied
	// even after collecting and growing the heap.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInstancesExist is returned when a per-type hook is registered
	// after objects of that type were allocated.
	ErrInstancesExist = errors.New("instances of type already exist")

	ErrUnknownType       = errors.New("unknown type")
	ErrBadLayout         = errors.New("invalid type layout")
	ErrNotVarsized       = errors.New("type is not varsized")
	ErrBadLength         = errors.New("invalid length")
	ErrAlreadyRegistered = errors.New("finalizer already registered")
	ErrNilRef            = errors.New("nil reference")
	ErrCorrupt           = errors.New("heap corrupted")
)
