package refbridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUntracked means a handle has no tracking entry: it was never
	// stored, or its refcount already reached zero.
	ErrUntracked = errors.New("untracked handle")

	// ErrIncomplete means a container still has unfilled slots.
	ErrIncomplete = errors.New("incomplete object")

	ErrNullHandle   = errors.New("null handle")
	ErrNotList      = errors.New("not a list")
	ErrIndex        = errors.New("index out of range")
	ErrNotCallable  = errors.New("object is not callable")
	ErrNoType       = errors.New("type not installed")
	ErrBadFunction  = errors.New("unknown function pointer")
	ErrDeadCallable = errors.New("function pointer outlived its callable")

	// ErrCorrupt means a native block holds values no bridge operation
	// could have written, such as a negative list size.
	ErrCorrupt = errors.New("corrupt object")
)

// fail records err as the pending error of a boundary operation and returns
// the failure code native callers see.
func (m *Mapper) fail(op string, err error) int32 {
	m.lastErr = fmt.Errorf("%s: %w", op, err)
	m.logger.Debug("boundary failure", "op", op, "err", err)
	return -1
}

// SetError sets the pending error, as native code does before returning a
// failure code of its own.
func (m *Mapper) SetError(msg string) {
	m.lastErr = errors.New(msg)
}

// LastError returns the pending error, or nil.
func (m *Mapper) LastError() error {
	return m.lastErr
}

func (m *Mapper) ClearError() {
	m.lastErr = nil
}
