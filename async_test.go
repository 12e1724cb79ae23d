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
	"context"
	"errors"
	"math"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gitlab.com/flimzy/testy"
)

// pending is the part of a future the request tests need.
type pending interface {
	Done() <-chan struct{}
}

func resultErr[T any](f *Future[T]) error {
	_, err := f.Result()
	return err
}

func TestRequests(t *testing.T) {
	type tt struct {
		call     func(context.Context, *AsyncClient) error
		response string
		method   string
		path     string
		query    string
		header   http.Header
		body     interface{}
		rawBody  string
	}
	tests := testy.NewTable()
	tests.Add("CreateDB", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.CreateDB(ctx)) },
		method: http.MethodPut,
		path:   "/db",
	})
	tests.Add("DeleteDB in another database", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.DeleteDB(ctx, Database("a/b"))) },
		method: http.MethodDelete,
		path:   "/a%2Fb",
	})
	tests.Add("ListDBs", tt{
		call:     func(ctx context.Context, c *AsyncClient) error { return resultErr(c.ListDBs(ctx)) },
		response: `["a","b"]`,
		method:   http.MethodGet,
		path:     "/_all_dbs",
	})
	tests.Add("InfoDB", tt{
		call:     func(ctx context.Context, c *AsyncClient) error { return resultErr(c.InfoDB(ctx)) },
		response: `{"db_name":"db"}`,
		method:   http.MethodGet,
		path:     "/db",
	})
	tests.Add("DBExists", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.DBExists(ctx)) },
		method: http.MethodHead,
		path:   "/db",
	})
	tests.Add("PullDB", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.PullDB(ctx, "http://remote/src", CreateTarget()))
		},
		method: http.MethodPost,
		path:   "/_replicate",
		body: map[string]interface{}{
			"source":        "http://remote/src",
			"target":        "db",
			"create_target": true,
		},
	})
	tests.Add("Replicate", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.Replicate(ctx, "a", "b"))
		},
		method: http.MethodPost,
		path:   "/_replicate",
		body: map[string]interface{}{
			"source":        "a",
			"target":        "b",
			"create_target": false,
		},
	})
	tests.Add("UUIDs", tt{
		call:     func(ctx context.Context, c *AsyncClient) error { return resultErr(c.UUIDs(ctx, 3)) },
		response: `{"uuids":["a","b","c"]}`,
		method:   http.MethodGet,
		path:     "/_uuids",
		query:    "count=3",
	})
	tests.Add("GetDoc with slash", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.GetDoc(ctx, "foo/bar")) },
		method: http.MethodGet,
		path:   "/db/foo%2Fbar",
		header: http.Header{"Accept": {"application/json"}},
	})
	tests.Add("GetDoc design doc", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.GetDoc(ctx, "_design/my app")) },
		method: http.MethodGet,
		path:   "/db/_design/my%20app",
	})
	tests.Add("HasDoc", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.HasDoc(ctx, "foo")) },
		method: http.MethodHead,
		path:   "/db/foo",
	})
	tests.Add("GetDocs", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.GetDocs(ctx, []string{"a", "b"}))
		},
		response: `{"rows":[{"id":"a","key":"a","doc":{"_id":"a"}},{"id":"b","key":"b","doc":{"_id":"b"}}]}`,
		method:   http.MethodPost,
		path:     "/db/_all_docs",
		query:    "include_docs=true",
		body:     map[string]interface{}{"keys": []interface{}{"a", "b"}},
	})
	tests.Add("SaveDoc without id", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.SaveDoc(ctx, Document{"name": "Bob"}))
		},
		response: `{"ok":true,"id":"x","rev":"1-a"}`,
		method:   http.MethodPost,
		path:     "/db",
		header:   http.Header{"Content-Type": {"application/json"}},
		body:     map[string]interface{}{"name": "Bob"},
	})
	tests.Add("SaveDoc with id and rev", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.SaveDoc(ctx, Document{"_id": "x", "_rev": "1-a", "n": 1}))
		},
		response: `{"ok":true,"id":"x","rev":"2-b"}`,
		method:   http.MethodPut,
		path:     "/db/x",
		body:     map[string]interface{}{"_id": "x", "_rev": "1-a", "n": float64(1)},
	})
	tests.Add("SaveDocs all or nothing", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.SaveDocs(ctx, []Document{{"_id": "a"}}, AllOrNothing()))
		},
		response: `[{"id":"a","rev":"1-a"}]`,
		method:   http.MethodPost,
		path:     "/db/_bulk_docs",
		body: map[string]interface{}{
			"all_or_nothing": true,
			"docs":           []interface{}{map[string]interface{}{"_id": "a"}},
		},
	})
	tests.Add("SaveDocs default", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.SaveDocs(ctx, nil))
		},
		response: `[]`,
		method:   http.MethodPost,
		path:     "/db/_bulk_docs",
		body: map[string]interface{}{
			"all_or_nothing": false,
			"docs":           []interface{}{},
		},
	})
	tests.Add("DeleteDoc", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.DeleteDoc(ctx, Document{"_id": "x", "_rev": "1-a"}))
		},
		response: `{"ok":true,"id":"x","rev":"2-b"}`,
		method:   http.MethodDelete,
		path:     "/db/x",
		query:    "rev=1-a",
	})
	tests.Add("DeleteDocs", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.DeleteDocs(ctx, []Document{{"_id": "x", "_rev": "1-a", "other": true}}))
		},
		response: `[{"id":"x","rev":"2-b"}]`,
		method:   http.MethodPost,
		path:     "/db/_bulk_docs",
		body: map[string]interface{}{
			"all_or_nothing": false,
			"docs": []interface{}{
				map[string]interface{}{"_id": "x", "_rev": "1-a", "_deleted": true},
			},
		},
	})
	tests.Add("GetAttachment", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.GetAttachment(ctx, Document{"_id": "x"}, "a b.txt", "text/plain"))
		},
		response: "hello",
		method:   http.MethodGet,
		path:     "/db/x/a%20b.txt",
		header:   http.Header{"Accept": {"text/plain"}},
	})
	tests.Add("GetAttachment type from document", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			doc := Document{
				"_id": "x",
				"_attachments": map[string]interface{}{
					"pic": map[string]interface{}{"content_type": "image/png", "stub": true},
				},
			}
			return resultErr(c.GetAttachment(ctx, doc, "pic", ""))
		},
		response: "\x89PNG",
		method:   http.MethodGet,
		path:     "/db/x/pic",
		header:   http.Header{"Accept": {"image/png"}},
	})
	tests.Add("SaveAttachment", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			att := &Attachment{Name: "f.txt", ContentType: "text/plain", Data: []byte("hi")}
			return resultErr(c.SaveAttachment(ctx, Document{"_id": "x", "_rev": "1-a"}, att))
		},
		response: `{"ok":true,"id":"x","rev":"2-b"}`,
		method:   http.MethodPut,
		path:     "/db/x/f.txt",
		query:    "rev=1-a",
		header:   http.Header{"Content-Type": {"text/plain"}},
		rawBody:  "hi",
	})
	tests.Add("DeleteAttachment", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.DeleteAttachment(ctx, Document{"_id": "x", "_rev": "2-b"}, "f.txt"))
		},
		response: `{"ok":true,"id":"x","rev":"3-c"}`,
		method:   http.MethodDelete,
		path:     "/db/x/f.txt",
		query:    "rev=2-b",
	})
	tests.Add("View GET", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.View(ctx, "_design/app", "by_name", &ViewQuery{Key: "abc", Stale: StaleOK}))
		},
		response: `{"rows":[]}`,
		method:   http.MethodGet,
		path:     "/db/_design/app/_view/by_name",
		query:    "key=%22abc%22&stale=ok",
	})
	tests.Add("View with keys", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.View(ctx, "app", "by_name", &ViewQuery{Keys: []interface{}{"a", 1}, Limit: Int(5)}))
		},
		response: `{"rows":[]}`,
		method:   http.MethodPost,
		path:     "/db/_design/app/_view/by_name",
		query:    "limit=5",
		body:     map[string]interface{}{"keys": []interface{}{"a", float64(1)}},
	})
	tests.Add("ViewAllDocs", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.ViewAllDocs(ctx, &ViewQuery{IncludeDocs: true, StartKeyDocID: "a b"}))
		},
		response: `{"rows":[]}`,
		method:   http.MethodGet,
		path:     "/db/_all_docs",
		query:    "include_docs=true&startkey_docid=a+b",
	})
	tests.Add("TempView", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.TempView(ctx, TempViewDoc{Map: "function(doc){emit(null)}"}, &ViewQuery{Reduce: Bool(false)}))
		},
		response: `{"rows":[]}`,
		method:   http.MethodPost,
		path:     "/db/_temp_view",
		query:    "reduce=false",
		body:     map[string]interface{}{"map": "function(doc){emit(null)}"},
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		response := tt.response
		if response == "" {
			response = `{"ok":true}`
		}
		rec := &recorder{body: response}
		c := newRecordedClient(t, rec)
		if err := tt.call(context.Background(), c); err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		req, body := rec.last(t)
		if req.Method != tt.method {
			t.Errorf("Unexpected method: %s", req.Method)
		}
		if got := req.URL.EscapedPath(); got != tt.path {
			t.Errorf("Unexpected path: %s, want %s", got, tt.path)
		}
		if req.URL.RawQuery != tt.query {
			t.Errorf("Unexpected query: %s, want %s", req.URL.RawQuery, tt.query)
		}
		for key := range tt.header {
			if got, want := req.Header.Get(key), tt.header.Get(key); got != want {
				t.Errorf("Unexpected %s header: %q, want %q", key, got, want)
			}
		}
		if tt.rawBody != "" {
			if string(body) != tt.rawBody {
				t.Errorf("Unexpected body: %q", body)
			}
			return
		}
		if d := cmp.Diff(tt.body, decodeBody(t, body)); d != "" {
			t.Errorf("Unexpected body:\n%s", d)
		}
	})
}

func TestValidation(t *testing.T) {
	type tt struct {
		call func(context.Context, *AsyncClient) (pending, error)
		db   string
	}
	wrap := func(f pending, err error) (pending, error) {
		return f, err
	}
	tests := testy.NewTable()
	tests.Add("DeleteDoc without rev", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.DeleteDoc(ctx, Document{"_id": "x"})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("DeleteDoc without id", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.DeleteDoc(ctx, Document{"_rev": "1-a"})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("DeleteDocs with one incomplete doc", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.DeleteDocs(ctx, []Document{{"_id": "a", "_rev": "1-a"}, {"_id": "b"}})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("GetAttachment without content type", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.GetAttachment(ctx, Document{"_id": "x"}, "a.txt", "")
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("SaveAttachment without data", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.SaveAttachment(ctx, Document{"_id": "x"}, &Attachment{Name: "a", ContentType: "text/plain"})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("SaveAttachment without document id", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.SaveAttachment(ctx, Document{}, &Attachment{Name: "a", ContentType: "text/plain", Data: []byte("x")})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("DeleteAttachment without rev", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.DeleteAttachment(ctx, Document{"_id": "x"}, "a")
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("negative limit", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.View(ctx, "app", "v", &ViewQuery{Limit: Int(-1)})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("invalid stale", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.ViewAllDocs(ctx, &ViewQuery{Stale: "later"})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("missing view name", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.View(ctx, "_design/", "v", nil)
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("non-finite number", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.SaveDoc(ctx, Document{"n": math.Inf(1)})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("non-finite view key", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.View(ctx, "app", "v", &ViewQuery{Key: math.NaN()})
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("zero uuids", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.UUIDs(ctx, 0)
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("no database", tt{
		db: "-",
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.GetDoc(ctx, "x")
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("empty doc id", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.HasDoc(ctx, "")
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("nil document", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.SaveDoc(ctx, nil)
			return wrap(f, resultErr(f))
		},
	})
	tests.Add("replication without source", tt{
		call: func(ctx context.Context, c *AsyncClient) (pending, error) {
			f := c.PullDB(ctx, "")
			return wrap(f, resultErr(f))
		},
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		rec := &recorder{body: `{"ok":true}`}
		c := newRecordedClient(t, rec)
		if tt.db == "-" {
			if err := c.Use("", ""); err != nil {
				t.Fatal(err)
			}
		}
		f, err := tt.call(context.Background(), c)
		select {
		case <-f.Done():
		default:
			t.Error("future was not resolved at once")
		}
		if kind, ok := KindOf(err); !ok || kind != KindValidation {
			t.Errorf("Unexpected error: %v", err)
		}
		if HTTPStatus(err) != 0 {
			t.Errorf("Unexpected status: %d", HTTPStatus(err))
		}
		if n := rec.count(); n != 0 {
			t.Errorf("%d requests were sent", n)
		}
	})
}

func TestErrorClassification(t *testing.T) {
	type tt struct {
		call   func(context.Context, *AsyncClient) error
		status int
		body   string
		kind   Kind
		code   int
		reason string
	}
	getDoc := func(ctx context.Context, c *AsyncClient) error { return resultErr(c.GetDoc(ctx, "x")) }
	tests := testy.NewTable()
	tests.Add("not found", tt{
		call:   getDoc,
		status: http.StatusNotFound,
		body:   `{"error":"not_found","reason":"missing"}`,
		kind:   KindNotFound,
		code:   http.StatusNotFound,
		reason: "missing",
	})
	tests.Add("precondition failed", tt{
		call:   func(ctx context.Context, c *AsyncClient) error { return resultErr(c.CreateDB(ctx)) },
		status: http.StatusPreconditionFailed,
		body:   `{"error":"file_exists","reason":"The database could not be created, the file already exists."}`,
		kind:   KindPreconditionFailed,
		code:   http.StatusPreconditionFailed,
		reason: "The database could not be created, the file already exists.",
	})
	tests.Add("unmapped status", tt{
		call:   getDoc,
		status: http.StatusForbidden,
		body:   `{"error":"forbidden","reason":"nope"}`,
		kind:   KindCouch,
		code:   http.StatusForbidden,
		reason: "nope",
	})
	tests.Add("bulk conflict with success status", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.SaveDocs(ctx, []Document{{"_id": "a"}, {"_id": "b"}}))
		},
		status: http.StatusCreated,
		body:   `[{"id":"a","rev":"1-a"},{"id":"b","error":"conflict","reason":"Document update conflict."}]`,
		kind:   KindConflict,
		code:   http.StatusConflict,
		reason: "Document update conflict.",
	})
	tests.Add("row error", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.GetDocs(ctx, []string{"a", "b"}))
		},
		body:   `{"rows":[{"id":"a","key":"a","doc":{"_id":"a"}},{"key":"b","error":"not_found"}]}`,
		kind:   KindNotFound,
		code:   http.StatusNotFound,
		reason: "not_found",
	})
	tests.Add("deleted doc in bulk get", tt{
		call: func(ctx context.Context, c *AsyncClient) error {
			return resultErr(c.GetDocs(ctx, []string{"a"}))
		},
		body: `{"rows":[{"id":"a","key":"a","value":{"rev":"2-b","deleted":true},"doc":null}]}`,
		kind: KindNotFound,
		code: http.StatusNotFound,
	})
	tests.Add("undecodable body", tt{
		call: getDoc,
		body: `<html>oops</html>`,
		kind: KindCouch,
		code: http.StatusBadGateway,
	})
	tests.Add("empty error body", tt{
		call:   getDoc,
		status: http.StatusInternalServerError,
		kind:   KindInternalServerError,
		code:   http.StatusInternalServerError,
	})

	tests.Run(t, func(t *testing.T, tt tt) {
		c := newRecordedClient(t, &recorder{status: tt.status, body: tt.body})
		err := tt.call(context.Background(), c)
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("Unexpected error type: %T %v", err, err)
		}
		if e.Kind != tt.kind {
			t.Errorf("Unexpected kind: %s, want %s", e.Kind, tt.kind)
		}
		if e.Status != tt.code {
			t.Errorf("Unexpected status: %d, want %d", e.Status, tt.code)
		}
		if tt.reason != "" && e.Reason != tt.reason {
			t.Errorf("Unexpected reason: %q, want %q", e.Reason, tt.reason)
		}
	})
}

func TestTransportErrorUnmodified(t *testing.T) {
	c, err := NewAsync("http://127.0.0.1:1/", "db", WithConnectTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close() // nolint:errcheck
	_, err = c.GetDoc(context.Background(), "x").Result()
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := KindOf(err); ok {
		t.Errorf("transport error was classified: %v", err)
	}
}

func TestSaveDocReturnsCopy(t *testing.T) {
	c := newRecordedClient(t, &recorder{status: http.StatusCreated, body: `{"ok":true,"id":"x","rev":"1-a"}`})
	doc := Document{"name": "Bob"}
	saved, err := c.SaveDoc(context.Background(), doc).Result()
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(Document{"name": "Bob"}, doc); d != "" {
		t.Errorf("input was modified:\n%s", d)
	}
	want := Document{"_id": "x", "_rev": "1-a", "name": "Bob"}
	if d := cmp.Diff(want, saved); d != "" {
		t.Errorf("Unexpected result:\n%s", d)
	}
}

func TestHasDocNotFound(t *testing.T) {
	c := newRecordedClient(t, &recorder{status: http.StatusNotFound})
	exists, err := c.HasDoc(context.Background(), "x").Result()
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("expected false")
	}
}

func TestClosed(t *testing.T) {
	rec := &recorder{body: `{"ok":true}`}
	c := newRecordedClient(t, rec)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second close: %s", err)
	}
	if _, err := c.GetDoc(context.Background(), "x").Result(); !errors.Is(err, ErrClosed) {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := c.Use("other", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Unexpected error from Use: %v", err)
	}
	if n := rec.count(); n != 0 {
		t.Errorf("%d requests were sent", n)
	}
}

type idleCounter struct {
	*recorder
	closes atomic.Int32
}

func (c *idleCounter) CloseIdleConnections() { c.closes.Add(1) }

func TestCloseKeepsCallerConnections(t *testing.T) {
	tr := &idleCounter{recorder: &recorder{body: `{"ok":true}`}}
	c, err := NewAsync("http://example.com/", "db", WithHTTPClient(&http.Client{Transport: tr}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateDB(context.Background()).Result(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if n := tr.closes.Load(); n != 0 {
		t.Errorf("idle connections of the caller's client closed %d times", n)
	}
}

func TestCloseWaitsForRunningOperations(t *testing.T) {
	bt := newBlockingTransport()
	c, err := NewAsync("http://example.com/", "db", WithHTTPClient(&http.Client{Transport: bt}))
	if err != nil {
		t.Fatal(err)
	}
	f := c.CreateDB(context.Background())
	<-bt.started
	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned before the operation finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(bt.release)
	<-closed
	if _, err := f.Result(); err != nil {
		t.Errorf("running operation failed: %s", err)
	}
}

func TestUseSnapshotsTarget(t *testing.T) {
	bt := newBlockingTransport()
	c, err := NewAsync("http://example.com/", "first", WithHTTPClient(&http.Client{Transport: bt}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close() // nolint:errcheck
	f := c.CreateDB(context.Background())
	if path := <-bt.started; path != "/first" {
		t.Errorf("Unexpected path: %s", path)
	}
	if err := c.Use("second", "http://other.example.com/"); err != nil {
		t.Fatal(err)
	}
	if c.DBName() != "second" || c.URL() != "http://other.example.com/" {
		t.Errorf("Unexpected target: %s %s", c.URL(), c.DBName())
	}
	g := c.CreateDB(context.Background())
	if path := <-bt.started; path != "/second" {
		t.Errorf("Unexpected path: %s", path)
	}
	close(bt.release)
	if _, err := f.Result(); err != nil {
		t.Error(err)
	}
	if _, err := g.Result(); err != nil {
		t.Error(err)
	}
}

func TestUseInvalidURL(t *testing.T) {
	c := newRecordedClient(t, &recorder{})
	err := c.Use("x", "http://[::1")
	if kind, ok := KindOf(err); !ok || kind != KindValidation {
		t.Errorf("Unexpected error: %v", err)
	}
	if c.DBName() != "db" {
		t.Errorf("target changed after a failed Use: %s", c.DBName())
	}
}

func TestCallTimeout(t *testing.T) {
	bt := newBlockingTransport()
	c, err := NewAsync("http://example.com/", "db", WithHTTPClient(&http.Client{Transport: bt}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close() // nolint:errcheck
	_, err = c.GetDoc(context.Background(), "x", Timeout(10*time.Millisecond)).Result()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCallHeader(t *testing.T) {
	rec := &recorder{body: `{"ok":true}`}
	c := newRecordedClient(t, rec, WithHeader("X-Base", "1"))
	if _, err := c.CreateDB(context.Background(), Header("X-Call", "2")).Result(); err != nil {
		t.Fatal(err)
	}
	req, _ := rec.last(t)
	if req.Header.Get("X-Base") != "1" || req.Header.Get("X-Call") != "2" {
		t.Errorf("Unexpected headers: %v", req.Header)
	}
	if _, err := c.CreateDB(context.Background()).Result(); err != nil {
		t.Fatal(err)
	}
	req, _ = rec.last(t)
	if req.Header.Get("X-Call") != "" {
		t.Error("per-call header leaked into a later call")
	}
}
