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
	"bytes"
	"encoding/json"
	"net/http"
)

// Interpret decodes a JSON response body and looks for an embedded error. The
// decoded value is scanned in this order, stopping at the first error found:
//
//  1. a list, any element of which is an object with an "error" key
//  2. an object with an "error" key
//  3. an object with a "rows" list, any row of which has an "error" key
//
// A top-level error object is classified by the response status. For list
// elements and rows the status is inferred from the error string, since the
// server reports those failures with a success status. A status of 300 or
// more with no error in the body is still classified by status.
//
// A body that cannot be decoded is reported as a Bad Gateway error, unless
// the status already signals a failure, in which case the status wins.
func Interpret(status int, body []byte) (interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		if status >= http.StatusMultipleChoices {
			return nil, Classify(status, "", body)
		}
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal(body, &value); err != nil {
		if status >= http.StatusMultipleChoices {
			return nil, Classify(status, "", body)
		}
		return nil, &Error{
			Kind:   KindCouch,
			Status: http.StatusBadGateway,
			Reason: err.Error(),
			Body:   body,
			Err:    err,
		}
	}
	if err := scan(status, value, body); err != nil {
		return nil, err
	}
	if status >= http.StatusMultipleChoices {
		var reason string
		if obj, ok := value.(map[string]interface{}); ok {
			reason, _ = obj["reason"].(string)
		}
		return nil, Classify(status, reason, body)
	}
	return value, nil
}

func scan(status int, value interface{}, body []byte) *Error {
	switch t := value.(type) {
	case []interface{}:
		return scanItems(t, body)
	case map[string]interface{}:
		if _, ok := t["error"]; ok {
			return Classify(status, itemReason(t), body)
		}
		if rows, ok := t["rows"].([]interface{}); ok {
			return scanItems(rows, body)
		}
	}
	return nil
}

func scanItems(items []interface{}, body []byte) *Error {
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := obj["error"]; !ok {
			continue
		}
		return Classify(inferStatus(obj), itemReason(obj), body)
	}
	return nil
}

// inferStatus maps an in-body error string to a status code.
func inferStatus(obj map[string]interface{}) int {
	switch obj["error"] {
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// itemReason returns the "reason" of obj, or its "error" when no reason is
// given.
func itemReason(obj map[string]interface{}) string {
	if reason, ok := obj["reason"].(string); ok && reason != "" {
		return reason
	}
	if e, ok := obj["error"].(string); ok {
		return e
	}
	return ""
}

// reasonOf extracts a reason from a JSON error body, if there is one.
func reasonOf(body []byte) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	return itemReason(obj)
}
