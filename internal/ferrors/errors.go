// Package ferrors defines the tagged error kinds used across fatdefrag.
//
// The shape mirrors the teacher's errno/DriverError split: a small string-backed
// sentinel type that implements `error`, plus a wrapper that lets callers attach
// context without losing the ability to test the underlying kind with
// errors.Is.
package ferrors

import "fmt"

// Kind is a sentinel error identifying one of the error classes a fatdefrag
// operation can fail with.
type Kind string

// Error implements the error interface.
func (k Kind) Error() string {
	return string(k)
}

// WithMessage returns a new error that reports as "<message>: <kind>" but
// still satisfies errors.Is(err, k).
func (k Kind) WithMessage(message string) error {
	return &wrapped{message: message, kind: k}
}

// WrapError attaches an underlying error to k, preserving both Error() output
// and errors.Is/errors.As behavior for the kind and the wrapped error.
func (k Kind) WrapError(err error) error {
	return &wrapped{message: err.Error(), kind: k, cause: err}
}

const (
	// IoError indicates an underlying read/write failure. A Volume is
	// poisoned only when a journal commit fails or an image read during
	// open fails; it then returns that stored error from every call that
	// checks for poisoning. IoErrors from other reads are returned to the
	// caller without poisoning the Volume.
	IoError = Kind("I/O operation failed")

	// FormatError indicates the image is not a valid FAT volume.
	FormatError = Kind("not a valid FAT volume")

	// CorruptChain indicates the FAT contains a cycle or points outside the
	// valid data region.
	CorruptChain = Kind("corrupt cluster chain")

	// CorruptJournal indicates journal replay failed a checksum; the caller
	// must stop and report a manual-repair state.
	CorruptJournal = Kind("journal failed checksum verification")

	// NoSpace indicates no contiguous allocation was possible and the
	// displacement pass exhausted its alternatives for one file.
	NoSpace = Kind("no contiguous free region available")

	// Busy indicates another process holds the image's advisory lock.
	Busy = Kind("image is locked by another process")
)

type wrapped struct {
	message string
	kind    Kind
	cause   error
}

func (w *wrapped) Error() string {
	if w.message == "" {
		return string(w.kind)
	}
	return fmt.Sprintf("%s: %s", w.message, w.kind)
}

func (w *wrapped) Unwrap() error {
	if w.cause != nil {
		return w.cause
	}
	return w.kind
}

// Is lets errors.Is(w, SomeKind) succeed when w was built from SomeKind,
// regardless of the message or wrapped cause attached along the way.
func (w *wrapped) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == w.kind
}
