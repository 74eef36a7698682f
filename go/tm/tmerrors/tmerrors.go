/*
Copyright 2026 The Tenantmove Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tmerrors provides the error type used through the codebase.
//
// Every error carries a canonical gRPC code, and optionally a State that
// refines the code for conditions callers dispatch on (for example, a
// write rejected because the tenant is migrating). Use Code and ErrState
// to recover them anywhere in a wrapping chain.
//
// Errors with code INTERNAL indicate a broken protocol invariant, not a
// recoverable runtime condition. Callers must treat them as fatal.
package tmerrors

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
)

// New returns an error with the given code and message.
func New(code codes.Code, message string) error {
	return &fundamental{
		code:    code,
		state:   Undefined,
		message: message,
	}
}

// Errorf formats according to a format specifier and returns the string
// as a value that satisfies error, with the given code attached.
func Errorf(code codes.Code, format string, args ...any) error {
	return &fundamental{
		code:    code,
		state:   Undefined,
		message: fmt.Sprintf(format, args...),
	}
}

// NewErrorf is like Errorf but also attaches a State.
func NewErrorf(code codes.Code, state State, format string, args ...any) error {
	return &fundamental{
		code:    code,
		state:   state,
		message: fmt.Sprintf(format, args...),
	}
}

// Wrap returns an error annotating err with a message.
// If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause:   err,
		message: message,
	}
}

// Wrapf returns an error annotating err with the format specifier.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapping{
		cause:   err,
		message: fmt.Sprintf(format, args...),
	}
}

// Code returns the error code if it's an error produced by this package,
// codes.OK if err is nil, and codes.Unknown otherwise.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var c interface{ ErrorCode() codes.Code }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	// Handle some special cases.
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Unknown
}

// ErrState returns the error state if the error carries one,
// and Undefined otherwise.
func ErrState(err error) State {
	if err == nil {
		return Undefined
	}
	var s interface{ ErrorState() State }
	if errors.As(err, &s) {
		return s.ErrorState()
	}
	return Undefined
}

type fundamental struct {
	code    codes.Code
	state   State
	message string
}

func (f *fundamental) Error() string { return f.message }

func (f *fundamental) ErrorCode() codes.Code { return f.code }

func (f *fundamental) ErrorState() State { return f.state }

func (f *fundamental) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			panicIfError(io.WriteString(s, f.message))
			panicIfError(fmt.Fprintf(s, " (errno %v)", f.code))
			return
		}
		fallthrough
	case 's':
		panicIfError(io.WriteString(s, f.message))
	case 'q':
		panicIfError(fmt.Fprintf(s, "%q", f.message))
	}
}

type wrapping struct {
	cause   error
	message string
}

func (w *wrapping) Error() string { return w.message + ": " + w.cause.Error() }

func (w *wrapping) Unwrap() error { return w.cause }

func panicIfError(_ int, err error) {
	if err != nil {
		panic(err)
	}
}
