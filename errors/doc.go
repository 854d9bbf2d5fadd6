// Package errors provides the status/result taxonomy of the addon runtime.
//
// Every embedding interface call returns an abi.Status. Errors carry that
// status together with the Phase (subsystem) that observed it, the failing
// operation and optional argument path, detail and cause.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseArgument, abi.StatusStringExpected).
//		Path("arguments[0]").
//		Detail("got number").
//		Build()
//
// Or convert a host status directly:
//
//	if err := errors.Check(errors.PhaseScope, "close_handle_scope", status); err != nil {
//		return err
//	}
//
// Status sentinels match any phase:
//
//	if errors.Is(err, errors.ErrEscapeCalledTwice) { ... }
package errors

import stderrors "errors"

// Is forwards to the standard library so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As forwards to the standard library so callers need a single import.
func As(err error, target any) bool { return stderrors.As(err, target) }
