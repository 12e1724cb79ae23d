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

package couchtest

import "net/http"

// couchError is served as CouchDB's {"error","reason"} body.
type couchError struct {
	status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *couchError) Error() string {
	return e.Reason
}

func (e *couchError) HTTPStatus() int {
	return e.status
}

var (
	errDBNotFound   = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "Database does not exist."}
	errDBExists     = &couchError{status: http.StatusPreconditionFailed, Err: "file_exists", Reason: "The database could not be created, the file already exists."}
	errMissing      = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "missing"}
	errDeleted      = &couchError{status: http.StatusNotFound, Err: "not_found", Reason: "deleted"}
	errConflict     = &couchError{status: http.StatusConflict, Err: "conflict", Reason: "Document update conflict."}
	errUnauthorized = &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "You are not authorized to access this db."}
	errBadLogin     = &couchError{status: http.StatusUnauthorized, Err: "unauthorized", Reason: "Name or password is incorrect."}
)

func errBadRequest(code, reason string) *couchError {
	return &couchError{status: http.StatusBadRequest, Err: code, Reason: reason}
}

func errNotFound(reason string) *couchError {
	return &couchError{status: http.StatusNotFound, Err: "not_found", Reason: reason}
}

func errQueryParse(reason string) *couchError {
	return errBadRequest("query_parse_error", reason)
}
