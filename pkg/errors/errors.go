// Package errors wraps errors with the location where they are wrapped.
//
// Usage:
//
//	wrapped := errors.Wrap(err)
//
// `wrapped` knows filename, line, and the name of function where itself is created.
// Chained wrappings are joined with " <- ", so the message reads as a stack of
// marked locations, innermost last.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

type TracedError struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *TracedError) File() string {
	return e.file
}

func (e *TracedError) Line() int {
	return e.line
}

func (e *TracedError) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err.Error())
}

func (e *TracedError) Unwrap() error {
	return e.err
}

// New creates a brand-new error and marks it with the caller's location.
func New(text string) error {
	return wrap("", errors.New(text), 1)
}

// Wrap marks err with the caller's location.
func Wrap(err error) error {
	return wrap("", err, 1)
}

// WrapWithNote is Wrap, with a short note put beside the location.
func WrapWithNote(note string, err error) error {
	return wrap(note, err, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	funcname := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &TracedError{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
