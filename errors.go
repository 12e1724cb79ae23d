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

package relax

import (
	"errors"
	"net/http"

	"github.com/go-kivik/relax/chttp"
)

// Error is a classified failure reported by the server, or a validation
// failure detected before a request was sent.
type Error = chttp.Error

// Kind is the category of an [Error].
type Kind = chttp.Kind

// Error kinds. See [chttp.Kind].
const (
	KindCouch               = chttp.KindCouch
	KindNotModified         = chttp.KindNotModified
	KindBadRequest          = chttp.KindBadRequest
	KindNotFound            = chttp.KindNotFound
	KindMethodNotAllowed    = chttp.KindMethodNotAllowed
	KindConflict            = chttp.KindConflict
	KindPreconditionFailed  = chttp.KindPreconditionFailed
	KindInternalServerError = chttp.KindInternalServerError
	KindValidation          = chttp.KindValidation
)

// ErrClosed is returned by every call made after a client is closed.
var ErrClosed = errors.New("relax: client is closed")

// KindOf returns the kind of err, and false if err is not an [*Error].
func KindOf(err error) (Kind, bool) {
	return chttp.KindOf(err)
}

// HTTPStatus returns the HTTP status code embedded in the error, or 500
// (internal server error), if there was no specified status code. If err is
// nil, HTTPStatus returns 0. Validation errors report 0.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder interface {
		HTTPStatus() int
	}
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindNotFound
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindConflict
}

func missing(format string, args ...interface{}) error {
	return chttp.MissingData(format, args...)
}
