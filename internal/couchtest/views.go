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

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"gitlab.com/flimzy/httpe"

	"github.com/go-kivik/relax/internal/collate"
)

// MapFunc is a view map function. It is called once per live document, and
// may call emit any number of times.
type MapFunc func(doc map[string]interface{}, emit func(key, value interface{}))

// ReduceFunc is a view reduce function.
type ReduceFunc func(keys, values []interface{}) interface{}

// View is a map/reduce view. Reduce is optional.
type View struct {
	Map    MapFunc
	Reduce ReduceFunc
}

// Count is the built-in _count reduce function.
func Count(_, values []interface{}) interface{} {
	return float64(len(values))
}

// Sum is the built-in _sum reduce function. Non-numeric values are ignored.
func Sum(_, values []interface{}) interface{} {
	var total float64
	for _, v := range values {
		if n, ok := v.(float64); ok {
			total += n
		}
	}
	return total
}

type row struct {
	id    string
	key   interface{}
	value interface{}
	doc   *document
}

func (r row) compare(key interface{}, docID string) int {
	if cmp := collate.Compare(r.key, key); cmp != 0 {
		return cmp
	}
	if docID == "" {
		return 0
	}
	return collate.CompareString(r.id, docID)
}

func (r row) toMap(includeDocs bool) map[string]interface{} {
	out := map[string]interface{}{
		"id":    r.id,
		"key":   r.key,
		"value": r.value,
	}
	if includeDocs {
		if r.doc == nil || r.doc.deleted {
			out["doc"] = nil
		} else {
			out["doc"] = r.doc.toMap()
		}
	}
	return out
}

type viewQuery struct {
	key, startKey, endKey          interface{}
	hasKey, hasStartKey, hasEndKey bool
	keys                           []interface{}
	startKeyDocID, endKeyDocID     string
	limit, skip, groupLevel        int
	descending, inclusiveEnd       bool
	group, includeDocs, updateSeq  bool
	reduce                         *bool
}

func parseJSONParam(query url.Values, name string) (interface{}, bool, error) {
	raw, ok := query[name]
	if !ok {
		return nil, false, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw[0]), &v); err != nil {
		return nil, false, errQueryParse("Invalid JSON for " + name)
	}
	return v, true, nil
}

func parseBoolParam(query url.Values, name string, def bool) (bool, error) {
	raw := query.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errQueryParse("Invalid boolean parameter: " + name)
	}
	return v, nil
}

func parseIntParam(query url.Values, name string, def int) (int, error) {
	raw := query.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errQueryParse("Invalid value for " + name + ": must be a non-negative integer")
	}
	return v, nil
}

// parseViewQuery reads view parameters from the query string. keys comes
// from the request body, when there is one.
func parseViewQuery(r *http.Request, keys []interface{}) (*viewQuery, error) {
	query := r.URL.Query()
	q := &viewQuery{keys: keys}
	var err error
	if q.key, q.hasKey, err = parseJSONParam(query, "key"); err != nil {
		return nil, err
	}
	if q.startKey, q.hasStartKey, err = parseJSONParam(query, "startkey"); err != nil {
		return nil, err
	}
	if q.endKey, q.hasEndKey, err = parseJSONParam(query, "endkey"); err != nil {
		return nil, err
	}
	if q.keys == nil {
		if v, ok, err := parseJSONParam(query, "keys"); err != nil {
			return nil, err
		} else if ok {
			list, isList := v.([]interface{})
			if !isList {
				return nil, errQueryParse("`keys` must be an array")
			}
			q.keys = list
		}
	}
	q.startKeyDocID = query.Get("startkey_docid")
	q.endKeyDocID = query.Get("endkey_docid")
	if q.limit, err = parseIntParam(query, "limit", -1); err != nil {
		return nil, err
	}
	if q.skip, err = parseIntParam(query, "skip", 0); err != nil {
		return nil, err
	}
	if q.groupLevel, err = parseIntParam(query, "group_level", -1); err != nil {
		return nil, err
	}
	flags := []struct {
		name   string
		def    bool
		target *bool
	}{
		{"descending", false, &q.descending},
		{"inclusive_end", true, &q.inclusiveEnd},
		{"group", false, &q.group},
		{"include_docs", false, &q.includeDocs},
		{"update_seq", false, &q.updateSeq},
	}
	for _, f := range flags {
		if *f.target, err = parseBoolParam(query, f.name, f.def); err != nil {
			return nil, err
		}
	}
	if query.Get("reduce") != "" {
		reduce, err := parseBoolParam(query, "reduce", true)
		if err != nil {
			return nil, err
		}
		q.reduce = &reduce
	}
	switch stale := query.Get("stale"); stale {
	case "", "ok", "update_after":
	default:
		return nil, errQueryParse("Invalid value for `stale`: " + stale)
	}
	return q, nil
}

// sortRows orders rows by key, then by document ID.
func sortRows(rows []row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].compare(rows[j].key, rows[j].id) < 0
	})
}

// selectRows applies ordering, key and range selection to sorted rows. It
// returns the selected rows and the number of rows skipped before them.
func (q *viewQuery) selectRows(rows []row) ([]row, int) {
	ordered := make([]row, len(rows))
	copy(ordered, rows)
	if q.descending {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	if q.keys != nil {
		var selected []row
		for _, key := range q.keys {
			for _, r := range ordered {
				if collate.Compare(r.key, key) == 0 {
					selected = append(selected, r)
				}
			}
		}
		return selected, 0
	}
	dir := 1
	if q.descending {
		dir = -1
	}
	selected := make([]row, 0, len(ordered))
	offset := 0
	for _, r := range ordered {
		if q.hasKey && collate.Compare(r.key, q.key) != 0 {
			if len(selected) == 0 {
				offset++
			}
			continue
		}
		if q.hasStartKey && dir*r.compare(q.startKey, q.startKeyDocID) < 0 {
			offset++
			continue
		}
		if q.hasEndKey {
			cmp := dir * r.compare(q.endKey, q.endKeyDocID)
			if cmp > 0 || (cmp == 0 && !q.inclusiveEnd) {
				break
			}
		}
		selected = append(selected, r)
	}
	return selected, offset
}

func (q *viewQuery) page(rows []row) []row {
	if q.skip >= len(rows) {
		return []row{}
	}
	rows = rows[q.skip:]
	if q.limit >= 0 && q.limit < len(rows) {
		rows = rows[:q.limit]
	}
	return rows
}

// groupKey truncates array keys to the group level.
func (q *viewQuery) groupKey(key interface{}) interface{} {
	if q.groupLevel < 0 {
		return key
	}
	if list, ok := key.([]interface{}); ok && len(list) > q.groupLevel {
		return list[:q.groupLevel]
	}
	return key
}

func (q *viewQuery) reduceRows(rows []row, reduce ReduceFunc) []map[string]interface{} {
	group := q.group || q.groupLevel > 0
	if !group {
		if len(rows) == 0 {
			return []map[string]interface{}{}
		}
		keys := make([]interface{}, len(rows))
		values := make([]interface{}, len(rows))
		for i, r := range rows {
			keys[i], values[i] = r.key, r.value
		}
		return []map[string]interface{}{{"key": nil, "value": reduce(keys, values)}}
	}
	var out []map[string]interface{}
	for start := 0; start < len(rows); {
		key := q.groupKey(rows[start].key)
		end := start
		var keys, values []interface{}
		for end < len(rows) && collate.Compare(q.groupKey(rows[end].key), key) == 0 {
			keys = append(keys, rows[end].key)
			values = append(values, rows[end].value)
			end++
		}
		out = append(out, map[string]interface{}{"key": key, "value": reduce(keys, values)})
		start = end
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return out
}

// run builds the response of a view query over the emitted rows.
func (q *viewQuery) run(db *database, rows []row, reduce ReduceFunc) (map[string]interface{}, error) {
	sortRows(rows)
	selected, offset := q.selectRows(rows)
	doReduce := reduce != nil && (q.reduce == nil || *q.reduce)
	if !doReduce && (q.group || q.groupLevel >= 0) {
		return nil, errQueryParse("Invalid use of grouping on a map view.")
	}
	if doReduce {
		if q.includeDocs {
			return nil, errQueryParse("`include_docs` is invalid for reduce")
		}
		if q.keys != nil && !q.group && q.groupLevel < 0 {
			return nil, errQueryParse("Multi-key fetches for reduce views must use `group=true`")
		}
		reduced := q.reduceRows(selected, reduce)
		if q.skip >= len(reduced) {
			reduced = reduced[:0]
		} else {
			reduced = reduced[q.skip:]
		}
		if q.limit >= 0 && q.limit < len(reduced) {
			reduced = reduced[:q.limit]
		}
		result := map[string]interface{}{"rows": reduced}
		if q.updateSeq {
			result["update_seq"] = db.seq
		}
		return result, nil
	}
	paged := q.page(selected)
	out := make([]map[string]interface{}, len(paged))
	for i, r := range paged {
		out[i] = r.toMap(q.includeDocs)
	}
	result := map[string]interface{}{
		"total_rows": len(rows),
		"offset":     offset + q.skip,
		"rows":       out,
	}
	if q.updateSeq {
		result["update_seq"] = db.seq
	}
	return result, nil
}

// mapRows runs fn over every live document, leaving out design and local
// documents.
func mapRows(db *database, fn MapFunc) []row {
	var rows []row
	for _, doc := range db.docs {
		if doc.deleted || doc.isDesign() || doc.isLocal() {
			continue
		}
		doc := doc
		fn(doc.toMap(), func(key, value interface{}) {
			rows = append(rows, row{id: doc.id, key: normalize(key), value: normalize(value), doc: doc})
		})
	}
	return rows
}

// normalize converts an emitted Go value to its decoded JSON form, so it
// collates like a key read from a request.
func normalize(v interface{}) interface{} {
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out interface{}
	_ = json.Unmarshal(body, &out)
	return out
}

// requestKeys reads the optional "keys" member of a POSTed view body.
func requestKeys(r *http.Request) (map[string]interface{}, []interface{}, error) {
	if r.Method != http.MethodPost {
		return nil, nil, nil
	}
	var body map[string]interface{}
	if err := decodeJSON(r, &body); err != nil {
		return nil, nil, err
	}
	raw, ok := body["keys"]
	if !ok {
		return body, nil, nil
	}
	keys, ok := raw.([]interface{})
	if !ok {
		return nil, nil, errBadRequest("bad_request", "`keys` body member must be an array.")
	}
	return body, keys, nil
}

func (s *Server) view() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		_, keys, err := requestKeys(r)
		if err != nil {
			return err
		}
		q, err := parseViewQuery(r, keys)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		ddoc := param(r, "ddoc")
		if _, err := db.live("_design/" + ddoc); err != nil {
			return errMissing
		}
		v, ok := s.views[ddoc+"/"+param(r, "view")]
		if !ok {
			return errNotFound("missing_named_view")
		}
		result, err := q.run(db, mapRows(db, v.Map), v.Reduce)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, result)
	})
}

func (s *Server) tempView() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		body, keys, err := requestKeys(r)
		if err != nil {
			return err
		}
		q, err := parseViewQuery(r, keys)
		if err != nil {
			return err
		}
		source, _ := body["map"].(string)
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		v, ok := s.tempViews[source]
		if !ok {
			return errBadRequest("compilation_error", "Unknown map function")
		}
		if _, hasReduce := body["reduce"]; !hasReduce {
			v.Reduce = nil
		}
		result, err := q.run(db, mapRows(db, v.Map), v.Reduce)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, result)
	})
}

func (s *Server) allDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		_, keys, err := requestKeys(r)
		if err != nil {
			return err
		}
		q, err := parseViewQuery(r, keys)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		if q.keys != nil {
			return serveJSON(w, http.StatusOK, q.allDocsByKey(db))
		}
		rows := make([]row, 0, len(db.docs))
		for _, doc := range db.docs {
			if doc.deleted || doc.isLocal() {
				continue
			}
			rows = append(rows, row{
				id:    doc.id,
				key:   doc.id,
				value: map[string]interface{}{"rev": doc.rev()},
				doc:   doc,
			})
		}
		result, err := q.run(db, rows, nil)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, result)
	})
}

// allDocsByKey answers an _all_docs request for explicit keys. Missing
// documents yield error rows, and deleted ones a null doc.
func (q *viewQuery) allDocsByKey(db *database) map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(q.keys))
	for _, key := range q.keys {
		id, _ := key.(string)
		doc, ok := db.docs[id]
		if !ok || doc.isLocal() {
			rows = append(rows, map[string]interface{}{"key": key, "error": "not_found"})
			continue
		}
		value := map[string]interface{}{"rev": doc.rev()}
		if doc.deleted {
			value["deleted"] = true
		}
		rows = append(rows, row{id: doc.id, key: key, value: value, doc: doc}.toMap(q.includeDocs))
	}
	return map[string]interface{}{
		"total_rows": len(db.docs),
		"offset":     0,
		"rows":       rows,
	}
}
