// Package verrors defines the tagged outcomes shared across every layer of
// the VMFS core. Callers compare against these with errors.Is; every layer
// wraps one of these rather than constructing a new untyped error.
package verrors

import "errors"

var (
	// ErrInvalidBlockID is returned when a block ID carries an unknown type
	// discriminator.
	ErrInvalidBlockID = errors.New("invalid block id")

	// ErrNoExtent is returned when a logical position falls outside every
	// loaded extent.
	ErrNoExtent = errors.New("no extent covers position")

	// ErrSpansExtents is returned when an I/O range would cross an extent
	// boundary. Cross-extent I/O is unsupported by design.
	ErrSpansExtents = errors.New("i/o spans several extents")

	// ErrMismatchedExtent is returned by add_extent when the candidate
	// extent's UUID or sizing fields disagree with the LVM already formed.
	ErrMismatchedExtent = errors.New("extent does not match lvm")

	// ErrMissingExtents is returned by open() when fewer extents were
	// loaded than num_extents requires.
	ErrMissingExtents = errors.New("missing extents")

	// ErrLockContended is returned when a metadata header is held by
	// another owner.
	ErrLockContended = errors.New("metadata lock contended")

	// ErrIO is returned on a short or failed read/write at the Volume
	// layer.
	ErrIO = errors.New("i/o error")

	// ErrNoSpace is returned when a bitmap has no free item of the
	// requested type.
	ErrNoSpace = errors.New("no space")

	// ErrCorrupt is returned when an on-disk invariant is violated, such
	// as a bitmap entry or item index outside the bitmap's bounds or a
	// volume or filesystem header with the wrong magic.
	ErrCorrupt = errors.New("corrupt on-disk structure")
)
