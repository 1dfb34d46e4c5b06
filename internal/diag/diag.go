// Package diag implements the diagnostic taxonomy from the compiler's
// error handling design: usage errors, I/O errors, source errors and
// warnings gathered per compilation, and internal errors that abort the
// process.
//
//	Taxonomy
//		UsageError            - bad CLI invocation, exit 1
//		IoError               - cannot open a file, exit 2
//		SourceError            - syntax/semantic problem, file:line:col: error: msg
//		SourceWarning          - non-fatal, compilation continues
//		CompileTimeArithmetic - div/mod by zero folded to 1, reported as a SourceError
//		InternalError          - violated invariant, aborts the process
package diag

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pos is a source position; zero value means "no position available"
// (used for diagnostics synthesized by the core rather than tied to a
// token).
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.Line == 0 {
		return "?"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// Severity distinguishes a SourceError from a SourceWarning; both carry
// a position and a message.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is one SourceError or SourceWarning, already formatted
// with the file name the Bag was told about.
type Diagnostic struct {
	Severity Severity
	File     string
	Pos      Pos
	Message  string
}

func (d Diagnostic) String() string {
	kind := "error"
	if d.Severity == SeverityWarning {
		kind = "warning"
	}
	return fmt.Sprintf("%s:%s: %s: %s", d.File, d.Pos, kind, d.Message)
}

// Bag accumulates diagnostics for one compilation. Passes run to
// completion where possible, so a Bag can hold many diagnostics by the
// time the driver inspects it.
type Bag struct {
	file  string
	items []Diagnostic
}

// NewBag creates a Bag that will stamp every diagnostic with file.
func NewBag(file string) *Bag {
	return &Bag{file: file}
}

// Errorf records a SourceError at pos.
func (b *Bag) Errorf(pos Pos, format string, args ...interface{}) {
	b.items = append(b.items, Diagnostic{
		Severity: SeverityError,
		File:     b.file,
		Pos:      pos,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Warnf records a SourceWarning at pos and does not affect HasErrors.
func (b *Bag) Warnf(pos Pos, format string, args ...interface{}) {
	b.items = append(b.items, Diagnostic{
		Severity: SeverityWarning,
		File:     b.file,
		Pos:      pos,
		Message:  fmt.Sprintf(format, args...),
	})
}

// ArithmeticErrorf records a CompileTimeArithmetic diagnostic: a
// division or modulo by a constant zero found during constant folding.
// funcName gives the enclosing function for context.
func (b *Bag) ArithmeticErrorf(pos Pos, funcName string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.Errorf(pos, "in function %s: %s", funcName, msg)
}

// HasErrors reports whether any SourceError (not warning) was recorded;
// code generation is skipped whenever this is true.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Items returns the accumulated diagnostics in recording order.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// InternalError is raised when a tracker invariant is violated or an
// impossible tag value is observed. It is caught only at the top of
// cmd/jlc and converted into the documented nonzero exit code.
type InternalError struct {
	ID    string
	cause error
}

func (e *InternalError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("internal error [%s]: %v", e.ID, e.cause)
	}
	return fmt.Sprintf("internal error [%s]", e.ID)
}

func (e *InternalError) Unwrap() error { return e.cause }

// Fail raises an InternalError identified by id, wrapping msg with a
// stack trace via pkg/errors so the fatal log line carries a frame
// trail back to the failed assertion.
func Fail(id string, format string, args ...interface{}) {
	cause := errors.Errorf(format, args...)
	logrus.WithField("id", id).WithError(cause).Error("internal compiler invariant violated")
	panic(&InternalError{ID: id, cause: cause})
}

// Assert panics with an InternalError identified by id if cond is
// false. Debug builds are expected to call this liberally at tracker
// sequence points.
func Assert(cond bool, id string, format string, args ...interface{}) {
	if !cond {
		Fail(id, format, args...)
	}
}

// Recover should be deferred at the top of cmd/jlc. It converts a
// panicking *InternalError into a returned error instead of crashing
// the process with a bare stack trace, while preserving the pkg/errors
// frame trail in the log.
func Recover() (err error) {
	if r := recover(); r != nil {
		if ie, ok := r.(*InternalError); ok {
			logrus.WithField("id", ie.ID).Error("aborting: internal compiler error")
			err = ie
			return
		}
		panic(r)
	}
	return nil
}
