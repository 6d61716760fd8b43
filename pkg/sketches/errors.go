package sketches

import "errors"

var (
	// ErrInvalidParameter is returned when a constructor or update argument is out of domain.
	ErrInvalidParameter = errors.New("sketches: invalid parameter")

	// ErrDimensionMismatch is returned when merging sketches of different shapes or types.
	ErrDimensionMismatch = errors.New("sketches: dimension mismatch")

	// ErrCorrupt is returned when a snapshot cannot be decoded.
	ErrCorrupt = errors.New("sketches: corrupt snapshot")
)
