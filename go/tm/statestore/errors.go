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

package statestore

import (
	"errors"
	"fmt"
)

// ErrorCode is the error code for a store error.
type ErrorCode int

// The following is the list of error codes a store operation can return.
const (
	// NodeExists is returned by Create when the document already exists.
	NodeExists ErrorCode = iota
	// NoNode is returned when the expected document is absent.
	NoNode
	// NoNamespace is returned when the backing namespace (the document
	// collection) is absent.
	NoNamespace
	// BadVersion is returned by Update when the version check failed
	// because of a conflicting concurrent write. Callers retry the whole
	// read-modify-write step, typically via RetryOnConflict.
	BadVersion
	// Interrupted is returned when the store connection was closed or the
	// context expired mid-operation.
	Interrupted
)

// Error represents an error from the store. It implements error, and
// carries one of the codes above so callers can branch without string
// matching.
type Error struct {
	Code    ErrorCode
	message string
}

// NewError returns a store error with the given code, referencing node.
func NewError(code ErrorCode, node string) error {
	var message string
	switch code {
	case NodeExists:
		message = fmt.Sprintf("node already exists: %s", node)
	case NoNode:
		message = fmt.Sprintf("node doesn't exist: %s", node)
	case NoNamespace:
		message = fmt.Sprintf("namespace doesn't exist: %s", node)
	case BadVersion:
		message = fmt.Sprintf("node version mismatch: %s", node)
	case Interrupted:
		message = fmt.Sprintf("interrupted: %s", node)
	default:
		message = fmt.Sprintf("unknown code: %s", node)
	}
	return Error{Code: code, message: message}
}

// Error implements error.
func (e Error) Error() string {
	return e.message
}

// IsErrType returns true if the error is a store error with the given code.
func IsErrType(err error, code ErrorCode) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
