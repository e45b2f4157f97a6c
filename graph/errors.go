// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for build-time validation failures (spec.md §4.7,
// §7). Wrapped inside BuildError so callers can use errors.Is against
// either the sentinel or the concrete BuildError value.
var (
	ErrDuplicatePassName = errors.New("graph: duplicate pass name")
	ErrPresentNotLast    = errors.New("graph: present pass is not last")
	ErrDuplicateHandle   = errors.New("graph: handle appears twice in pass input/output list")
	ErrAllocFailed       = errors.New("graph: transient resource allocation failed")
	ErrReflectFailed     = errors.New("graph: shader reflection failed")
)

// BuildError is returned by Builder.Build and Executor.Resize when
// graph construction fails for a reason the caller can reasonably
// recover from (as opposed to the panics raised for programmer
// errors; see invariant).
type BuildError struct {
	// Pass is the name of the offending pass, when applicable.
	Pass   string
	Reason error
}

func (e *BuildError) Error() string {
	if e.Pass == "" {
		return fmt.Sprintf("graph: build: %v", e.Reason)
	}
	return fmt.Sprintf("graph: build: pass %q: %v", e.Pass, e.Reason)
}

func (e *BuildError) Unwrap() error { return e.Reason }

func buildErr(pass string, reason error) *BuildError {
	return &BuildError{Pass: pass, Reason: reason}
}

// invariant panics with a formatted message if cond is false.
// It is used in place of the source's single-string panics (see
// engine/texture.go's "undefined texture type") for the programmer
// errors enumerated in spec.md §7: registering a handle twice,
// invalid access type for a slot, drawing with no bound shader, and
// so on — conditions that a correct caller never triggers.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("graph: " + fmt.Sprintf(format, args...))
	}
}
