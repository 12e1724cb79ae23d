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
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kivik/relax/chttp"
)

// target is the server and database operations are sent to. It is replaced
// as a whole by Use.
type target struct {
	db   string
	conn *chttp.Client
}

// AsyncClient is a non-blocking CouchDB client. Every operation returns a
// [Future] at once; operations run concurrently, over one shared
// *http.Client, with no ordering between them. To sequence operations, wait
// for each result before starting the next.
//
// Invalid arguments are reported through an already completed future,
// without any network activity.
type AsyncClient struct {
	cfg    *config
	opts   []Option
	loop   *Loop
	target atomic.Pointer[target]
	closed atomic.Bool
	useMU  sync.Mutex
}

var _ Couch = (*AsyncClient)(nil)

// NewAsync returns a non-blocking client for the server at dsn, operating on
// database db. An empty dsn means [DefaultURL]. db may be empty, and set
// later with Use, or per call with [Database].
func NewAsync(dsn, db string, opts ...Option) (*AsyncClient, error) {
	cfg := newConfig(opts)
	return newAsync(dsn, db, NewLoop(cfg.maxConcurrency), cfg, opts)
}

func newAsync(dsn, db string, loop *Loop, cfg *config, opts []Option) (*AsyncClient, error) {
	c := &AsyncClient{
		cfg:  cfg,
		opts: opts,
		loop: loop,
	}
	conn, err := c.connect(dsn)
	if err != nil {
		return nil, err
	}
	c.target.Store(&target{db: db, conn: conn})
	return c, nil
}

func (c *AsyncClient) connect(dsn string) (*chttp.Client, error) {
	if dsn == "" {
		dsn = DefaultURL
	}
	return chttp.New(c.cfg.httpClient, dsn, c.cfg.connOptions(c.opts)...)
}

// Use switches the client to database db on the server at dsn. An empty dsn
// keeps the current server. Operations already started are unaffected.
func (c *AsyncClient) Use(db, dsn string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.useMU.Lock()
	defer c.useMU.Unlock()
	cur := c.target.Load()
	next := &target{db: db, conn: cur.conn}
	if dsn != "" {
		conn, err := c.connect(dsn)
		if err != nil {
			return err
		}
		if conn.DSN() != cur.conn.DSN() {
			next.conn = conn
		}
	}
	c.target.Store(next)
	return nil
}

// DBName returns the current database name.
func (c *AsyncClient) DBName() string {
	return c.target.Load().db
}

// URL returns the current server URL, always ending in "/".
func (c *AsyncClient) URL() string {
	return c.target.Load().conn.DSN()
}

// Close rejects further calls with [ErrClosed], waits for running operations
// to finish, and releases idle connections of the default HTTP client.
func (c *AsyncClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.loop.Close()
	if c.cfg.ownsHTTPClient {
		c.cfg.httpClient.CloseIdleConnections()
	}
	return nil
}

// prepare snapshots the target and merges opts into a new call.
func (c *AsyncClient) prepare(opts []Option) (*target, *call, error) {
	if c.closed.Load() {
		return nil, nil, ErrClosed
	}
	t := c.target.Load()
	return t, c.cfg.newCall(t.db, opts), nil
}

// prepareDB is prepare for operations scoped to a database.
func (c *AsyncClient) prepareDB(opts []Option) (*target, *call, error) {
	t, cl, err := c.prepare(opts)
	if err != nil {
		return nil, nil, err
	}
	if cl.db == "" {
		return nil, nil, missing("database name required")
	}
	return t, cl, nil
}

func submit[T any](c *AsyncClient, parent context.Context, timeout time.Duration, cl *call, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var zero T
	ctx, cancel := cl.context(parent, timeout)
	err := c.loop.Go(ctx, func(err error) {
		defer cancel()
		if err != nil {
			f.resolve(zero, err)
			return
		}
		f.resolve(fn(ctx))
	})
	if err != nil {
		cancel()
		f.resolve(zero, err)
	}
	return f
}

func failed[T any](err error) *Future[T] {
	var zero T
	return resolved(zero, err)
}

func dbPath(db string) string {
	return "/" + url.PathEscape(db)
}

func docPath(db, docID string) string {
	return dbPath(db) + "/" + chttp.EncodeDocID(docID)
}

func attachmentPath(db, docID, name string) string {
	return docPath(db, docID) + "/" + chttp.EncodeSegment(name)
}

// jsonOptions returns the call's request options with v encoded as the body.
func jsonOptions(cl *call, v interface{}) (*chttp.Options, error) {
	body, err := chttp.EncodeJSON(v)
	if err != nil {
		return nil, err
	}
	opts := cl.options()
	opts.Body = body
	return opts, nil
}

// CreateDB creates the database.
func (c *AsyncClient) CreateDB(ctx context.Context, opts ...Option) *Future[struct{}] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[struct{}](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.conn.DoJSON(ctx, http.MethodPut, dbPath(cl.db), cl.options(), nil)
	})
}

// DeleteDB deletes the database.
func (c *AsyncClient) DeleteDB(ctx context.Context, opts ...Option) *Future[struct{}] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[struct{}](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.conn.DoJSON(ctx, http.MethodDelete, dbPath(cl.db), cl.options(), nil)
	})
}

// ListDBs returns the names of all databases on the server.
func (c *AsyncClient) ListDBs(ctx context.Context, opts ...Option) *Future[[]string] {
	t, cl, err := c.prepare(opts)
	if err != nil {
		return failed[[]string](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) ([]string, error) {
		var dbs []string
		err := t.conn.DoJSON(ctx, http.MethodGet, "/_all_dbs", cl.options(), &dbs)
		return dbs, err
	})
}

// InfoDB returns information about the database.
func (c *AsyncClient) InfoDB(ctx context.Context, opts ...Option) *Future[*DBInfo] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[*DBInfo](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (*DBInfo, error) {
		info := &DBInfo{}
		if err := t.conn.DoJSON(ctx, http.MethodGet, dbPath(cl.db), cl.options(), info); err != nil {
			return nil, err
		}
		return info, nil
	})
}

// DBExists reports whether the database exists.
func (c *AsyncClient) DBExists(ctx context.Context, opts ...Option) *Future[bool] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[bool](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (bool, error) {
		status, err := t.conn.DoHead(ctx, dbPath(cl.db), cl.options())
		return status == http.StatusOK, err
	})
}

// PullDB replicates source into the current database. See [CreateTarget].
func (c *AsyncClient) PullDB(ctx context.Context, source string, opts ...Option) *Future[*ReplicationResult] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[*ReplicationResult](err)
	}
	return c.replicate(ctx, t, cl, source, cl.db)
}

// Replicate replicates source into target. Either may be a database name
// local to the server, or a full URL.
func (c *AsyncClient) Replicate(ctx context.Context, source, target string, opts ...Option) *Future[*ReplicationResult] {
	t, cl, err := c.prepare(opts)
	if err != nil {
		return failed[*ReplicationResult](err)
	}
	if target == "" {
		return failed[*ReplicationResult](missing("replication target required"))
	}
	return c.replicate(ctx, t, cl, source, target)
}

func (c *AsyncClient) replicate(ctx context.Context, t *target, cl *call, source, targetDB string) *Future[*ReplicationResult] {
	if source == "" {
		return failed[*ReplicationResult](missing("replication source required"))
	}
	opts, err := jsonOptions(cl, map[string]interface{}{
		"source":        source,
		"target":        targetDB,
		"create_target": cl.createTarget,
	})
	if err != nil {
		return failed[*ReplicationResult](err)
	}
	return submit(c, ctx, c.cfg.replicationTimeout, cl, func(ctx context.Context) (*ReplicationResult, error) {
		result := &ReplicationResult{}
		if err := t.conn.DoJSON(ctx, http.MethodPost, "/_replicate", opts, result); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// UUIDs returns count server-generated UUIDs.
func (c *AsyncClient) UUIDs(ctx context.Context, count int, opts ...Option) *Future[[]string] {
	t, cl, err := c.prepare(opts)
	if err != nil {
		return failed[[]string](err)
	}
	if count < 1 {
		return failed[[]string](missing("uuid count must be positive, got %d", count))
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) ([]string, error) {
		reqOpts := cl.options()
		reqOpts.Query = url.Values{"count": {strconv.Itoa(count)}}
		var result struct {
			UUIDs []string `json:"uuids"`
		}
		err := t.conn.DoJSON(ctx, http.MethodGet, "/_uuids", reqOpts, &result)
		return result.UUIDs, err
	})
}

// GetDoc fetches a document by ID.
func (c *AsyncClient) GetDoc(ctx context.Context, docID string, opts ...Option) *Future[Document] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[Document](err)
	}
	if docID == "" {
		return failed[Document](missing("document ID required"))
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (Document, error) {
		var doc Document
		if err := t.conn.DoJSON(ctx, http.MethodGet, docPath(cl.db, docID), cl.options(), &doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// HasDoc reports whether a document exists, judged by the status of a HEAD
// request alone.
func (c *AsyncClient) HasDoc(ctx context.Context, docID string, opts ...Option) *Future[bool] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[bool](err)
	}
	if docID == "" {
		return failed[bool](missing("document ID required"))
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (bool, error) {
		status, err := t.conn.DoHead(ctx, docPath(cl.db, docID), cl.options())
		return status == http.StatusOK, err
	})
}

// GetDocs fetches several documents in one request, in the order of docIDs.
// If any of them is missing or deleted, the whole call fails with NotFound.
func (c *AsyncClient) GetDocs(ctx context.Context, docIDs []string, opts ...Option) *Future[[]Document] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[[]Document](err)
	}
	if len(docIDs) == 0 {
		return resolved([]Document{}, nil)
	}
	reqOpts, err := jsonOptions(cl, map[string]interface{}{"keys": docIDs})
	if err != nil {
		return failed[[]Document](err)
	}
	reqOpts.Query = url.Values{"include_docs": {"true"}}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) ([]Document, error) {
		result := &ViewResult{}
		if err := t.conn.DoJSON(ctx, http.MethodPost, dbPath(cl.db)+"/_all_docs", reqOpts, result); err != nil {
			return nil, err
		}
		docs := make([]Document, 0, len(result.Rows))
		for _, row := range result.Rows {
			if row.Doc == nil {
				key, _ := row.Key.(string)
				return nil, chttp.Classify(http.StatusNotFound, "deleted: "+key, nil)
			}
			docs = append(docs, row.Doc)
		}
		return docs, nil
	})
}

// SaveDoc creates or updates a document. A document with an _id is written
// to that ID, otherwise the server assigns one. The returned document is a
// copy of doc with the new _id and _rev set; doc itself is not modified.
func (c *AsyncClient) SaveDoc(ctx context.Context, doc Document, opts ...Option) *Future[Document] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[Document](err)
	}
	if doc == nil {
		return failed[Document](missing("document required"))
	}
	reqOpts, err := jsonOptions(cl, doc)
	if err != nil {
		return failed[Document](err)
	}
	method, path := http.MethodPost, dbPath(cl.db)
	if id := doc.ID(); id != "" {
		method, path = http.MethodPut, docPath(cl.db, id)
	}
	// Copied now, so later changes by the caller cannot leak into the result.
	saved := doc.withRev(doc.ID(), doc.Rev())
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (Document, error) {
		var rev DocRev
		if err := t.conn.DoJSON(ctx, method, path, reqOpts, &rev); err != nil {
			return nil, err
		}
		return saved.withRev(rev.ID, rev.Rev), nil
	})
}

// SaveDocs writes docs in one bulk request. See [AllOrNothing].
func (c *AsyncClient) SaveDocs(ctx context.Context, docs []Document, opts ...Option) *Future[[]DocRev] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[[]DocRev](err)
	}
	return c.bulk(ctx, t, cl, docs)
}

func (c *AsyncClient) bulk(ctx context.Context, t *target, cl *call, docs []Document) *Future[[]DocRev] {
	if docs == nil {
		docs = []Document{}
	}
	reqOpts, err := jsonOptions(cl, map[string]interface{}{
		"all_or_nothing": cl.allOrNothing,
		"docs":           docs,
	})
	if err != nil {
		return failed[[]DocRev](err)
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) ([]DocRev, error) {
		var revs []DocRev
		err := t.conn.DoJSON(ctx, http.MethodPost, dbPath(cl.db)+"/_bulk_docs", reqOpts, &revs)
		return revs, err
	})
}

func requireIDRev(doc Document, what string) error {
	if doc.ID() == "" {
		return missing("%s: document has no %s", what, KeyID)
	}
	if doc.Rev() == "" {
		return missing("%s: document %q has no %s", what, doc.ID(), KeyRev)
	}
	return nil
}

// DeleteDoc deletes a document, which must carry _id and _rev.
func (c *AsyncClient) DeleteDoc(ctx context.Context, doc Document, opts ...Option) *Future[DocRev] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[DocRev](err)
	}
	if err := requireIDRev(doc, "delete"); err != nil {
		return failed[DocRev](err)
	}
	id, rev := doc.ID(), doc.Rev()
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (DocRev, error) {
		reqOpts := cl.options()
		reqOpts.Query = url.Values{"rev": {rev}}
		var result DocRev
		err := t.conn.DoJSON(ctx, http.MethodDelete, docPath(cl.db, id), reqOpts, &result)
		return result, err
	})
}

// DeleteDocs deletes docs, each of which must carry _id and _rev, by saving
// a deletion marker for each through the bulk endpoint.
func (c *AsyncClient) DeleteDocs(ctx context.Context, docs []Document, opts ...Option) *Future[[]DocRev] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[[]DocRev](err)
	}
	tombstones := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if err := requireIDRev(doc, "bulk delete"); err != nil {
			return failed[[]DocRev](err)
		}
		tombstones = append(tombstones, Document{
			KeyID:      doc.ID(),
			KeyRev:     doc.Rev(),
			KeyDeleted: true,
		})
	}
	return c.bulk(ctx, t, cl, tombstones)
}

// GetAttachment fetches the raw content of an attachment of doc. The content
// type is contentType if given, or else the one recorded in doc's
// _attachments.
func (c *AsyncClient) GetAttachment(ctx context.Context, doc Document, name, contentType string, opts ...Option) *Future[[]byte] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[[]byte](err)
	}
	id := doc.ID()
	switch {
	case id == "":
		return failed[[]byte](missing("get attachment: document has no %s", KeyID))
	case name == "":
		return failed[[]byte](missing("get attachment: name required"))
	}
	if contentType == "" {
		contentType = doc.Attachments()[name].ContentType
	}
	if contentType == "" {
		return failed[[]byte](missing("get attachment %q: no content type given, and none recorded in the document", name))
	}
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) ([]byte, error) {
		reqOpts := cl.options()
		reqOpts.Accept = contentType
		return t.conn.DoRaw(ctx, http.MethodGet, attachmentPath(cl.db, id, name), reqOpts)
	})
}

// SaveAttachment stores att on doc, which must have an _id. When doc has a
// _rev it is sent, as the server requires for existing documents.
func (c *AsyncClient) SaveAttachment(ctx context.Context, doc Document, att *Attachment, opts ...Option) *Future[DocRev] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[DocRev](err)
	}
	id, rev := doc.ID(), doc.Rev()
	if id == "" {
		return failed[DocRev](missing("save attachment: document has no %s", KeyID))
	}
	if att == nil {
		return failed[DocRev](missing("save attachment: attachment required"))
	}
	if err := validate.Struct(att); err != nil {
		return failed[DocRev](validationError("attachment", err))
	}
	reqOpts := cl.options()
	reqOpts.Body = append([]byte(nil), att.Data...)
	reqOpts.ContentType = att.ContentType
	reqOpts.NoGzip = true
	if rev != "" {
		reqOpts.Query = url.Values{"rev": {rev}}
	}
	name := att.Name
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (DocRev, error) {
		var result DocRev
		err := t.conn.DoJSON(ctx, http.MethodPut, attachmentPath(cl.db, id, name), reqOpts, &result)
		return result, err
	})
}

// DeleteAttachment removes an attachment from doc, which must carry _id and
// _rev.
func (c *AsyncClient) DeleteAttachment(ctx context.Context, doc Document, name string, opts ...Option) *Future[DocRev] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[DocRev](err)
	}
	if err := requireIDRev(doc, "delete attachment"); err != nil {
		return failed[DocRev](err)
	}
	if name == "" {
		return failed[DocRev](missing("delete attachment: name required"))
	}
	id, rev := doc.ID(), doc.Rev()
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (DocRev, error) {
		reqOpts := cl.options()
		reqOpts.Query = url.Values{"rev": {rev}}
		var result DocRev
		err := t.conn.DoJSON(ctx, http.MethodDelete, attachmentPath(cl.db, id, name), reqOpts, &result)
		return result, err
	})
}

// View queries view of design document ddoc. The "_design/" prefix of ddoc
// is optional.
func (c *AsyncClient) View(ctx context.Context, ddoc, view string, q *ViewQuery, opts ...Option) *Future[*ViewResult] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[*ViewResult](err)
	}
	ddoc = strings.TrimPrefix(ddoc, "_design/")
	if ddoc == "" || view == "" {
		return failed[*ViewResult](missing("view: design document and view name required"))
	}
	path := dbPath(cl.db) + "/_design/" + chttp.EncodeSegment(ddoc) + "/_view/" + chttp.EncodeSegment(view)
	return c.query(ctx, t, cl, path, q, nil)
}

// ViewAllDocs queries the database's _all_docs index.
func (c *AsyncClient) ViewAllDocs(ctx context.Context, q *ViewQuery, opts ...Option) *Future[*ViewResult] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[*ViewResult](err)
	}
	return c.query(ctx, t, cl, dbPath(cl.db)+"/_all_docs", q, nil)
}

// TempView runs an ad-hoc view, which the server does not store.
// _temp_view is only offered by CouchDB 1.x servers.
func (c *AsyncClient) TempView(ctx context.Context, view TempViewDoc, q *ViewQuery, opts ...Option) *Future[*ViewResult] {
	t, cl, err := c.prepareDB(opts)
	if err != nil {
		return failed[*ViewResult](err)
	}
	if view.Map == "" {
		return failed[*ViewResult](missing("temp view: map function required"))
	}
	body := map[string]interface{}{"map": view.Map}
	if view.Reduce != "" {
		body["reduce"] = view.Reduce
	}
	return c.query(ctx, t, cl, dbPath(cl.db)+"/_temp_view", q, body)
}

// query runs a view request. The request is a POST when there is a body, or
// when q has Keys, which are always sent in the body.
func (c *AsyncClient) query(ctx context.Context, t *target, cl *call, path string, q *ViewQuery, body map[string]interface{}) *Future[*ViewResult] {
	values, keys, err := q.encode()
	if err != nil {
		return failed[*ViewResult](err)
	}
	if keys != nil {
		if body == nil {
			body = map[string]interface{}{}
		}
		body["keys"] = keys
	}
	method := http.MethodGet
	reqOpts := cl.options()
	if body != nil {
		method = http.MethodPost
		if reqOpts, err = jsonOptions(cl, body); err != nil {
			return failed[*ViewResult](err)
		}
	}
	reqOpts.Query = values
	return submit(c, ctx, c.cfg.timeout, cl, func(ctx context.Context) (*ViewResult, error) {
		result := &ViewResult{}
		if err := t.conn.DoJSON(ctx, method, path, reqOpts, result); err != nil {
			return nil, err
		}
		return result, nil
	})
}
