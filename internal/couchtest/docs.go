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
	"errors"
	"io"
	"net/http"

	"gitlab.com/flimzy/httpe"
)

func writeResult(doc *document) map[string]interface{} {
	return map[string]interface{}{
		"ok":  true,
		"id":  doc.id,
		"rev": doc.rev(),
	}
}

// requestRev returns the revision given in the query string, or else in the
// body.
func requestRev(r *http.Request, body map[string]interface{}) string {
	if rev := r.URL.Query().Get("rev"); rev != "" {
		return rev
	}
	rev, _ := body["_rev"].(string)
	return rev
}

func (s *Server) getDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, err := db.live(docID(r))
		if err != nil {
			return err
		}
		if rev := r.URL.Query().Get("rev"); rev != "" && rev != doc.rev() {
			return errMissing
		}
		w.Header().Set("ETag", `"`+doc.rev()+`"`)
		return serveJSON(w, http.StatusOK, doc.toMap())
	})
}

func (s *Server) putDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := decodeJSON(r, &body); err != nil {
			return err
		}
		id := docID(r)
		if bodyID, ok := body["_id"].(string); ok && bodyID != id {
			return errBadRequest("bad_request", "Document id must match the URL")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, err := db.write(id, requestRev(r, body), body)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusCreated, writeResult(doc))
	})
}

func (s *Server) postDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var body map[string]interface{}
		if err := decodeJSON(r, &body); err != nil {
			return err
		}
		id, _ := body["_id"].(string)
		if id == "" {
			id = newUUID()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, err := db.write(id, requestRev(r, body), body)
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusCreated, writeResult(doc))
	})
}

func (s *Server) deleteDoc() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id := docID(r)
		if _, err := db.live(id); err != nil {
			return err
		}
		rev := r.URL.Query().Get("rev")
		if rev == "" {
			return errConflict
		}
		doc, err := db.write(id, rev, map[string]interface{}{"_deleted": true})
		if err != nil {
			return err
		}
		return serveJSON(w, http.StatusOK, writeResult(doc))
	})
}

func (s *Server) bulkDocs() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		var req struct {
			AllOrNothing bool                     `json:"all_or_nothing"`
			Docs         []map[string]interface{} `json:"docs"`
		}
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
		if req.Docs == nil {
			return errBadRequest("bad_request", "POST body must include `docs` parameter.")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		for _, doc := range req.Docs {
			if id, _ := doc["_id"].(string); id == "" {
				doc["_id"] = newUUID()
			}
		}
		if req.AllOrNothing {
			var failures []map[string]interface{}
			for _, doc := range req.Docs {
				id := doc["_id"].(string)
				rev, _ := doc["_rev"].(string)
				if err := db.checkRev(id, rev); err != nil {
					failures = append(failures, bulkFailure(id, err))
				}
			}
			if len(failures) > 0 {
				return serveJSON(w, http.StatusExpectationFailed, failures)
			}
		}
		results := make([]map[string]interface{}, 0, len(req.Docs))
		for _, body := range req.Docs {
			id := body["_id"].(string)
			rev, _ := body["_rev"].(string)
			doc, err := db.write(id, rev, body)
			if err != nil {
				results = append(results, bulkFailure(id, err))
				continue
			}
			results = append(results, map[string]interface{}{"id": doc.id, "rev": doc.rev()})
		}
		return serveJSON(w, http.StatusCreated, results)
	})
}

func bulkFailure(id string, err error) map[string]interface{} {
	ce := &couchError{}
	if !errors.As(err, &ce) {
		ce = &couchError{Err: "unknown_error", Reason: err.Error()}
	}
	return map[string]interface{}{
		"id":     id,
		"error":  ce.Err,
		"reason": ce.Reason,
	}
}

func (s *Server) getAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		doc, err := db.live(docID(r))
		if err != nil {
			return err
		}
		att, ok := doc.atts[param(r, "attname")]
		if !ok {
			return errNotFound("Document is missing attachment")
		}
		w.Header().Set("Content-Type", att.contentType)
		w.Header().Set("Content-MD5", att.digest()[len("md5-"):])
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(att.data)
		return err
	})
}

func (s *Server) putAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return errBadRequest("bad_request", err.Error())
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id, name := docID(r), param(r, "attname")
		rev := r.URL.Query().Get("rev")
		if err := db.checkRev(id, rev); err != nil {
			return err
		}
		body := map[string]interface{}{}
		atts := map[string]*attachment{}
		if doc, ok := db.docs[id]; ok && !doc.deleted {
			for k, v := range doc.body {
				body[k] = v
			}
			for k, v := range doc.atts {
				atts[k] = v
			}
		}
		doc, err := db.write(id, rev, body)
		if err != nil {
			return err
		}
		atts[name] = &attachment{
			contentType: r.Header.Get("Content-Type"),
			data:        data,
			revpos:      doc.gen,
		}
		doc.atts = atts
		return serveJSON(w, http.StatusCreated, writeResult(doc))
	})
}

func (s *Server) deleteAttachment() httpe.HandlerWithError {
	return httpe.HandlerWithErrorFunc(func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, err := s.db(r)
		if err != nil {
			return err
		}
		id, name := docID(r), param(r, "attname")
		current, err := db.live(id)
		if err != nil {
			return err
		}
		rev := r.URL.Query().Get("rev")
		if rev != current.rev() {
			return errConflict
		}
		if _, ok := current.atts[name]; !ok {
			return errNotFound("Document is missing attachment")
		}
		body := make(map[string]interface{}, len(current.body))
		for k, v := range current.body {
			body[k] = v
		}
		atts := make(map[string]*attachment, len(current.atts))
		for k, v := range current.atts {
			if k != name {
				atts[k] = v
			}
		}
		doc, err := db.write(id, rev, body)
		if err != nil {
			return err
		}
		doc.atts = atts
		return serveJSON(w, http.StatusOK, writeResult(doc))
	})
}
