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
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/go-kivik/relax/chttp"
)

var validate = validator.New()

// validationError converts a validator failure into a validation [Error].
func validationError(subject string, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fmt.Sprintf("%s: %s failed the %q check", subject, fe.Field(), fe.Tag())
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s: %s failed the %q check (%s)", subject, fe.Field(), fe.Tag(), fe.Param())
		}
		return &Error{Kind: KindValidation, Reason: reason, Err: err}
	}
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf("%s: %s", subject, err), Err: err}
}

// Stale values accepted by CouchDB.
const (
	StaleOK          = "ok"
	StaleUpdateAfter = "update_after"
)

// ViewQuery holds the parameters of a view query. Zero values are omitted
// from the request. Key-valued fields are sent as JSON literals; the doc ID
// tie-breakers and Stale are sent verbatim. Keys, when non-nil, is sent in
// the request body, which makes the request a POST.
type ViewQuery struct {
	Key           interface{}
	Keys          []interface{}
	StartKey      interface{}
	StartKeyDocID string
	EndKey        interface{}
	EndKeyDocID   string
	Limit         *int   `validate:"omitempty,min=0"`
	Skip          *int   `validate:"omitempty,min=0"`
	// Stale is sent raw, as stale=ok, unlike the JSON-encoded key fields.
	Stale         string `validate:"omitempty,oneof=ok update_after"`
	Descending    bool
	InclusiveEnd  *bool
	Group         bool
	GroupLevel    *int `validate:"omitempty,min=0"`
	Reduce        *bool
	IncludeDocs   bool
	UpdateSeq     bool
}

// Int returns a pointer to i, for the optional numeric fields of
// [ViewQuery].
func Int(i int) *int { return &i }

// Bool returns a pointer to b, for the optional boolean fields of
// [ViewQuery].
func Bool(b bool) *bool { return &b }

// encode returns the query string values, and the keys to send in the body,
// if any.
func (q *ViewQuery) encode() (url.Values, []interface{}, error) {
	values := url.Values{}
	if q == nil {
		return values, nil, nil
	}
	if err := validate.Struct(q); err != nil {
		return nil, nil, validationError("view query", err)
	}
	jsonParams := []struct {
		name  string
		value interface{}
	}{
		{"key", q.Key},
		{"startkey", q.StartKey},
		{"endkey", q.EndKey},
	}
	for _, p := range jsonParams {
		if p.value == nil {
			continue
		}
		v, err := chttp.EncodeQueryValue(p.value)
		if err != nil {
			return nil, nil, err
		}
		values.Set(p.name, v)
	}
	setString := func(name, value string) {
		if value != "" {
			values.Set(name, value)
		}
	}
	setString("startkey_docid", q.StartKeyDocID)
	setString("endkey_docid", q.EndKeyDocID)
	setString("stale", q.Stale)
	setInt := func(name string, value *int) {
		if value != nil {
			values.Set(name, strconv.Itoa(*value))
		}
	}
	setInt("limit", q.Limit)
	setInt("skip", q.Skip)
	setInt("group_level", q.GroupLevel)
	setBool := func(name string, value *bool) {
		if value != nil {
			values.Set(name, strconv.FormatBool(*value))
		}
	}
	setFlag := func(name string, value bool) {
		if value {
			values.Set(name, "true")
		}
	}
	setFlag("descending", q.Descending)
	setBool("inclusive_end", q.InclusiveEnd)
	setFlag("group", q.Group)
	setBool("reduce", q.Reduce)
	setFlag("include_docs", q.IncludeDocs)
	setFlag("update_seq", q.UpdateSeq)
	if q.Keys != nil {
		if _, err := chttp.EncodeJSON(q.Keys); err != nil {
			return nil, nil, err
		}
	}
	return values, q.Keys, nil
}
