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
	"crypto/md5" // nolint:gosec
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"gitlab.com/flimzy/httpe"
)

var validDBName = regexp.MustCompile(`^[a-z][a-z0-9_$()+/-]*$`)

type attachment struct {
	contentType string
	data        []byte
	revpos      int
}

func (a *attachment) digest() string {
	sum := md5.Sum(a.data) // nolint:gosec
	return "md5-" + base64.StdEncoding.EncodeToString(sum[:])
}

func (a *attachment) stub() map[string]interface{} {
	return map[string]interface{}{
		"content_type": a.contentType,
		"length":       len(a.data),
		"digest":       a.digest(),
		"revpos":       a.revpos,
		"stub":         true,
	}
}

// document is the latest revision of a document. Older revisions are not
// kept.
type document struct {
	id      string
	gen     int
	hash    string
	deleted bool
	body    map[string]interface{}
	atts    map[string]*attachment
}

func (d *document) rev() string {
	if d.gen == 0 {
		return ""
	}
	return fmt.Sprintf("%d-%s", d.gen, d.hash)
}

func (d *document) isLocal() bool {
	return strings.HasPrefix(d.id, "_local/")
}

func (d *document) isDesign() bool {
	return strings.HasPrefix(d.id, "_design/")
}

// toMap returns the document as served, with its reserved fields.
func (d *document) toMap() map[string]interface{} {
	out := make(map[string]interface{}, len(d.body)+3) // nolint:gomnd
	for k, v := range d.body {
		out[k] = v
	}
	out["_id"] = d.id
	out["_rev"] = d.rev()
	if len(d.atts) > 0 {
		stubs := make(map[string]interface{}, len(d.atts))
		for name, att := range d.atts {
			stubs[name] = att.stub()
		}
		out["_attachments"] = stubs
	}
	return out
}

type database struct {
	docs map[string]*document
	seq  int
}

func newDatabase() *database {
	return &database{docs: map[string]*document{}}
}

// live returns the document with id, unless it is missing or deleted.
func (db *database) live(id string) (*document, error) {
	doc, ok := db.docs[id]
	switch {
	case !ok:
		return nil, errMissing
	case doc.deleted:
		return nil, errDeleted
	}
	return doc, nil
}

// checkRev verifies that rev is the current revision of the document with
// id, as an update must.
func (db *database) checkRev(id, rev string) error {
	doc, ok := db.docs[id]
	switch {
	case !ok:
		if rev != "" {
			return errConflict
		}
	case doc.deleted:
		if rev != "" && rev != doc.rev() {
			return errConflict
		}
	case rev != doc.rev():
		return errConflict
	}
	return nil
}

func validDocID(id string) error {
	if id == "" {
		return errBadRequest("bad_request", "Document id must not be empty")
	}
	if strings.HasPrefix(id, "_") && !strings.HasPrefix(id, "_design/") && !strings.HasPrefix(id, "_local/") {
		return errBadRequest("illegal_docid", "Only reserved document ids may start with underscore.")
	}
	return nil
}

// write stores a new revision of the document with id, after checking rev
// against the current one. Reserved fields of body are interpreted and
// dropped.
func (db *database) write(id, rev string, body map[string]interface{}) (*document, error) {
	if err := validDocID(id); err != nil {
		return nil, err
	}
	if err := db.checkRev(id, rev); err != nil {
		return nil, err
	}
	doc, ok := db.docs[id]
	if !ok {
		doc = &document{id: id}
	}
	atts, err := mergeAttachments(doc, body["_attachments"], doc.gen+1)
	if err != nil {
		return nil, err
	}
	deleted, _ := body["_deleted"].(bool)
	clean := make(map[string]interface{}, len(body))
	for k, v := range body {
		if !strings.HasPrefix(k, "_") {
			clean[k] = v
		}
	}
	if deleted {
		clean, atts = map[string]interface{}{}, nil
	}
	db.docs[id] = doc
	doc.gen++
	doc.hash = newUUID()
	doc.deleted = deleted
	doc.body = clean
	doc.atts = atts
	db.seq++
	return doc, nil
}

// mergeAttachments builds the attachment set of a new revision from the
// _attachments field of an update. Stubs keep stored attachments; entries
// with data replace them.
func mergeAttachments(doc *document, field interface{}, revpos int) (map[string]*attachment, error) {
	entries, _ := field.(map[string]interface{})
	if len(entries) == 0 {
		return nil, nil
	}
	atts := make(map[string]*attachment, len(entries))
	for name, raw := range entries {
		entry, _ := raw.(map[string]interface{})
		if stub, _ := entry["stub"].(bool); stub {
			existing, ok := doc.atts[name]
			if !ok {
				return nil, &couchError{status: http.StatusPreconditionFailed, Err: "missing_stub", Reason: "Invalid attachment stub for " + name}
			}
			atts[name] = existing
			continue
		}
		encoded, _ := entry["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errBadRequest("bad_request", "Invalid attachment data for "+name)
		}
		contentType, _ := entry["content_type"].(string)
		atts[name] = &attachment{contentType: contentType, data: data, revpos: revpos}
	}
	return atts, nil
}

// db returns the database named in the request. The server lock must be
// held.
func (s *Server) db(r *http.Request) (*database, error) {
	db, ok := s.dbs[param(r, "db")]
	if !ok {
		return nil, errDBNotFound
	}
	return db, nil
}

func (s *Server) allDBs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, _ *http.Request) error {
		s.mu.Lock()
		names := make([]string, 0, len(s.dbs))
		for name := range s.dbs {
			names = append(names, name)
		}
		s.mu.Unlock()
		sort.Strings(names)
		return serveJSON(w, http.StatusOK, names)
	})
}

func (s *Server) createDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		name := param(r, "db")
		if !validDBName.MatchString(name) {
			return errBadRequest("illegal_database_name", fmt.Sprintf("Name: '%s'. Only lowercase characters (a-z), digits (0-9), and any of the characters _, $, (, ), +, -, and / are allowed. Must begin with a letter.", name))
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.dbs[name]; ok {
			return errDBExists
		}
		s.dbs[name] = newDatabase()
		return serveJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	})
}

func (s *Server) deleteDB() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.db(r); err != nil {
			return err
		}
		delete(s.dbs, param(r, "db"))
		return serveJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

func (s *Server) dbInfo() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		var docCount, delCount, external int
		for _, doc := range db.docs {
			if doc.isLocal() {
				continue
			}
			if doc.deleted {
				delCount++
				continue
			}
			docCount++
			if body, err := json.Marshal(doc.toMap()); err == nil {
				external += len(body)
			}
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"db_name":         param(r, "db"),
			"doc_count":       docCount,
			"doc_del_count":   delCount,
			"update_seq":      db.seq,
			"compact_running": false,
			"sizes": map[string]int{
				"file":     external * 2, // nolint:gomnd
				"external": external,
				"active":   external,
			},
		})
	})
}

// localDBName resolves a replication endpoint to a database on this server.
// Full URLs are accepted, with the database taken from the last path
// segment.
func localDBName(endpoint string) string {
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return strings.Trim(u.Path, "/")
}

func (s *Server) replicate() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			Source       string `json:"source"`
			Target       string `json:"target"`
			CreateTarget bool   `json:"create_target"`
		}
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		source, ok := s.dbs[localDBName(req.Source)]
		if !ok {
			return errNotFound("db_not_found: could not open " + req.Source)
		}
		targetName := localDBName(req.Target)
		target, ok := s.dbs[targetName]
		if !ok {
			if !req.CreateTarget {
				return errNotFound("db_not_found: could not open " + req.Target)
			}
			target = newDatabase()
			s.dbs[targetName] = target
		}
		written := 0
		for id, doc := range source.docs {
			if doc.isLocal() {
				continue
			}
			if existing, ok := target.docs[id]; ok && existing.gen >= doc.gen {
				continue
			}
			clone := *doc
			target.docs[id] = &clone
			target.seq++
			written++
		}
		return serveJSON(w, http.StatusOK, map[string]interface{}{
			"ok":              true,
			"session_id":      newUUID(),
			"source_last_seq": source.seq,
			"no_changes":      written == 0,
			"history": []map[string]interface{}{
				{"docs_written": written, "docs_read": written},
			},
		})
	})
}
