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

// Package errors maps failures to the CLI's exit codes.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-kivik/relax"
)

// Exit status codes. Codes 10 to 27 mirror HTTP 4xx statuses, offset by 390;
// the rest follow sysexits(3).
const (
	ErrUsage               = 2
	ErrUnknown             = 3
	ErrInternalServerError = 4

	ErrBadRequest         = 10
	ErrUnauthorized       = 11
	ErrForbidden          = 13
	ErrNotFound           = 14
	ErrMethodNotAllowed   = 15
	ErrConflict           = 19
	ErrPreconditionFailed = 22
	ErrExpectationFailed  = 27

	ErrData        = 65
	ErrNoInput     = 66
	ErrUnavailable = 69
	ErrCantCreate  = 73
	ErrIO          = 74
	ErrTempFail    = 75
	ErrProtocol    = 76
)

type codedError struct {
	error
	code int
}

func (e *codedError) Unwrap() error {
	return e.error
}

// WithCode attaches an exit code to err. A nil err stays nil.
func WithCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &codedError{error: err, code: code}
}

// Code returns an error with the given exit code and message.
func Code(code int, msg string) error {
	return &codedError{error: errors.New(msg), code: code}
}

// Codef is Code with a format string.
func Codef(code int, format string, args ...interface{}) error {
	return &codedError{error: fmt.Errorf(format, args...), code: code}
}

// ExitCode returns the exit code for err: 0 for nil, an attached code if
// there is one, else one derived from the failure's kind. Failures which
// cannot be recognized give 0, so the caller can pick a fallback.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if kind, ok := relax.KindOf(err); ok {
		if kind == relax.KindValidation {
			return ErrUsage
		}
		return fromHTTPStatus(relax.HTTPStatus(err))
	}
	if errors.Is(err, relax.ErrClosed) {
		return ErrUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTempFail
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnavailable
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrData
	}
	return 0
}

func fromHTTPStatus(status int) int {
	switch {
	case status == http.StatusInternalServerError:
		return ErrInternalServerError
	case status == http.StatusBadGateway:
		return ErrProtocol
	case status >= 400 && status < 500:
		return status - 390 // nolint:gomnd
	}
	return ErrUnknown
}

// Transient reports whether err may succeed when retried: the server was
// unreachable, timed out, or failed with a 5xx status.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := relax.KindOf(err); ok {
		return kind != relax.KindValidation && relax.HTTPStatus(err) >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
