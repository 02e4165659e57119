package sim

import (
	"errors"
	"fmt"
)

// BuildError reports a problem detected while loading or constructing a
// network: malformed description, unmatched tag, missing waiter pairing,
// dangling signal reference. Build errors are fatal and always surface
// before any stepping or steady-state communication begins.
type BuildError struct {
	// File is the network description path, when the error came from one.
	File string

	// Rank is the partition the error belongs to, or -1 when unknown.
	Rank int

	// Tag is the communication tag involved, or -1 when not applicable.
	Tag int

	// Msg describes the problem.
	Msg string
}

func (e *BuildError) Error() string {
	s := "build: " + e.Msg
	if e.Rank >= 0 {
		s += fmt.Sprintf(" (rank %d)", e.Rank)
	}
	if e.Tag >= 0 {
		s += fmt.Sprintf(" (tag %d)", e.Tag)
	}
	if e.File != "" {
		s += " in " + e.File
	}
	return s
}

func buildErrf(format string, args ...any) *BuildError {
	return &BuildError{Rank: -1, Tag: -1, Msg: fmt.Sprintf(format, args...)}
}

// IsBuildError reports whether err is (or wraps) a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// PreconditionError reports API misuse: an operation invoked in a state
// that forbids it, such as stepping before FinalizeBuild. No partition
// work is performed when one is returned.
type PreconditionError struct {
	// Op is the operation that was misused.
	Op string

	// Reason says which precondition failed.
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition: %s: %s", e.Op, e.Reason)
}

// IsPreconditionError reports whether err is (or wraps) a
// PreconditionError.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// CommError reports a transport-level failure: a broken communicator or
// a transfer that could not complete. Comm errors abort the run; there
// is no retry anywhere in the engine.
type CommError struct {
	// Tag is the communication tag of the failed transfer, or -1.
	Tag int

	// Err is the underlying transport error.
	Err error
}

func (e *CommError) Error() string {
	if e.Tag >= 0 {
		return fmt.Sprintf("communication: tag %d: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("communication: %v", e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// IsCommError reports whether err is (or wraps) a CommError.
func IsCommError(err error) bool {
	var ce *CommError
	return errors.As(err, &ce)
}
