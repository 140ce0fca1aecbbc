// Package xerrors adds call-site information to errors so the logger can
// point at where a failure was created or annotated.
//
// New/Newf capture a full stack, Wrap/Wrapf record only the caller PC and
// EnsureTrace attaches a stack to foreign errors that do not carry one yet.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type stackTracer interface{ StackPCs() []uintptr }

type stacked struct {
	cause error
	pcs   []uintptr
}

func (s *stacked) Error() string       { return s.cause.Error() }
func (s *stacked) Unwrap() error       { return s.cause }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

type annotated struct {
	cause error
	msg   string
	pc    uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.cause.Error() }
func (a *annotated) Unwrap() error     { return a.cause }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// skip counts frames above the exported entry point
func stack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func New(msg string) error {
	return &stacked{cause: errors.New(msg), pcs: stack(1)}
}

func Newf(format string, args ...any) error {
	return &stacked{cause: fmt.Errorf(format, args...), pcs: stack(1)}
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{cause: err, pcs: stack(1)}
}

// EnsureTrace returns err unchanged when something in its chain already
// carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var st stackTracer
	if errors.As(err, &st) && len(st.StackPCs()) > 0 {
		return err
	}
	return &stacked{cause: err, pcs: stack(1)}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: msg, pc: caller(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{cause: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
