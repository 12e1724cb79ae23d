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
	"net/url"
	"strings"
)

const (
	prefixDesign = "_design/"
	prefixLocal  = "_local/"
)

// EncodeDocID encodes a document ID according to CouchDB's path encoding rules.
//
// In particular:
// -  '_design/' and '_local/' prefixes are unaltered.
// - The rest of the docID is Query-URL encoded, except that spaces are converted to %20. See https://github.com/apache/couchdb/issues/3565 for an
// explanation.
func EncodeDocID(docID string) string {
	for _, prefix := range []string{prefixDesign, prefixLocal} {
		if strings.HasPrefix(docID, prefix) {
			return prefix + EncodeSegment(strings.TrimPrefix(docID, prefix))
		}
	}
	return EncodeSegment(docID)
}

// EncodeSegment escapes a single path segment, such as an attachment or view
// name. Slashes are escaped too.
func EncodeSegment(segment string) string {
	segment = url.QueryEscape(segment)
	return strings.ReplaceAll(segment, "+", "%20")
}

// EncodeJSON marshals v with the encoder used for every request body and
// query value. HTML escaping is disabled, but "</" is written as "<\/" so the
// output is safe to embed in a script tag. NaN and infinite numbers are
// rejected with a validation error.
func EncodeJSON(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, &Error{Kind: KindValidation, Reason: err.Error(), Err: err}
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return bytes.ReplaceAll(out, []byte("</"), []byte(`<\/`)), nil
}

// EncodeQueryValue returns v as a JSON literal, suitable for a CouchDB query
// parameter. The result is further escaped by [url.Values.Encode].
func EncodeQueryValue(v interface{}) (string, error) {
	out, err := EncodeJSON(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
