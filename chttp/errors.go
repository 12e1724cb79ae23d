// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package chttp

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one member of the closed set of error categories a request
// can fail with.
type Kind int

// Error kinds. Every server-signaled failure maps to exactly one of the
// status-derived kinds; KindValidation is reserved for caller input rejected
// before any request is sent.
const (
	KindCouch Kind = iota
	KindNotModified
	KindBadRequest
	KindNotFound
	KindMethodNotAllowed
	KindConflict
	KindPreconditionFailed
	KindInternalServerError
	KindValidation
)

var kindNames = map[Kind]string{
	KindCouch:               "CouchException",
	KindNotModified:         "NotModified",
	KindBadRequest:          "BadRequest",
	KindNotFound:            "NotFound",
	KindMethodNotAllowed:    "MethodNotAllowed",
	KindConflict:            "Conflict",
	KindPreconditionFailed:  "PreconditionFailed",
	KindInternalServerError: "InternalServerError",
	KindValidation:          "Validation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var descriptions = map[Kind]string{
	KindNotModified:         "The document has not been modified since the last update.",
	KindBadRequest:          "The syntax of the request was invalid or could not be processed.",
	KindNotFound:            "The requested resource was not found.",
	KindMethodNotAllowed:    "The request was made using an incorrect request method; for example, a GET was used where a POST was required.",
	KindConflict:            "The request failed because of a database conflict.",
	KindPreconditionFailed:  "Could not create database - a database with that name already exists.",
	KindInternalServerError: "The request was invalid and failed, or an error occurred within the CouchDB server that prevented it from processing the request.",
	KindValidation:          "The request could not be built from the supplied arguments.",
}

// Error is a classified CouchDB failure.
type Error struct {
	// Kind is the taxonomy member this error belongs to.
	Kind Kind

	// Status is the HTTP status the classification was based on. It is 0
	// for validation errors.
	Status int

	// Reason is the server-supplied reason, verbatim. For validation errors
	// it describes what was missing.
	Reason string

	// Body is the raw response body, if one was received.
	Body []byte

	// Err is an optional underlying cause.
	Err error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Kind == KindValidation {
		return "relax: " + e.Reason
	}
	statusText := http.StatusText(e.Status)
	switch {
	case e.Reason == "" && statusText == "":
		return fmt.Sprintf("status %d", e.Status)
	case e.Reason == "":
		return statusText
	case statusText == "":
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", statusText, e.Reason)
}

// HTTPStatus returns the status code the error was classified from.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// Description returns the fixed human-readable description of the error's
// kind, independent of the server's reason text. For KindCouch the server's
// reason is returned, as there is no fixed text for unrecognized statuses.
func (e *Error) Description() string {
	if d, ok := descriptions[e.Kind]; ok {
		return d
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps status to a classified error. The mapping is total: any
// status without a dedicated kind becomes KindCouch, carrying status and
// reason unaltered.
func Classify(status int, reason string, body []byte) *Error {
	e := &Error{
		Kind:   KindCouch,
		Status: status,
		Reason: reason,
		Body:   body,
	}
	switch status {
	case http.StatusNotModified:
		e.Kind = KindNotModified
	case http.StatusBadRequest:
		e.Kind = KindBadRequest
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusMethodNotAllowed:
		e.Kind = KindMethodNotAllowed
	case http.StatusConflict:
		e.Kind = KindConflict
	case http.StatusPreconditionFailed:
		e.Kind = KindPreconditionFailed
	case http.StatusInternalServerError:
		e.Kind = KindInternalServerError
	}
	return e
}

// MissingData returns a validation error for input detected as incomplete
// before any request is sent.
func MissingData(format string, args ...interface{}) *Error {
	return &Error{
		Kind:   KindValidation,
		Reason: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of err, if it is or wraps an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
