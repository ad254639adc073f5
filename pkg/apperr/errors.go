/*
Copyright 2026.

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

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error so handlers can map it to an
// HTTP status without inspecting message strings.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindAlreadyExists
	KindDatabase
	KindIndex
	KindDeploy
	KindInvalidToken
)

// Error is the error type returned by the stores, the provider and the
// lifecycle service.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind with a user-facing message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound reports a missing challenge or instance.
func NotFound(message string) error { return New(KindNotFound, message) }

// Forbidden reports a caller acting on a resource it does not own.
func Forbidden(message string) error { return New(KindForbidden, message) }

// Conflict reports a state conflict, such as a second running instance.
func Conflict(message string) error { return New(KindConflict, message) }

// KindOf extracts the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Status maps an error to the HTTP status code surfaced to the caller.
// Provider, database and index failures are deliberately collapsed into
// a generic server error.
func Status(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindInvalidToken:
		return http.StatusForbidden
	case KindConflict, KindAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message of err. Internal kinds hide
// the underlying detail behind a generic message.
func Message(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return "internal server error"
	}
	switch appErr.Kind {
	case KindDatabase, KindIndex, KindDeploy, KindInternal:
		return "internal server error"
	default:
		return appErr.Message
	}
}
