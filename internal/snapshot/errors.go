package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a nil or malformed argument to an entry point.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedTrace reports a token that contradicts the state built so far.
	ErrMalformedTrace = errors.New("malformed trace")

	// ErrDuplicateAllocation reports a virtual allocation overlapping a live one.
	ErrDuplicateAllocation = fmt.Errorf("%w: allocation overlaps a live allocation", ErrMalformedTrace)

	// ErrResourceNotResolvable reports a resource without a usable identifier.
	ErrResourceNotResolvable = errors.New("resource not resolvable")
)
