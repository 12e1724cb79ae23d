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
)

// Couch is the non-blocking operation set, implemented by [AsyncClient].
type Couch interface {
	CreateDB(ctx context.Context, opts ...Option) *Future[struct{}]
	DeleteDB(ctx context.Context, opts ...Option) *Future[struct{}]
	ListDBs(ctx context.Context, opts ...Option) *Future[[]string]
	InfoDB(ctx context.Context, opts ...Option) *Future[*DBInfo]
	DBExists(ctx context.Context, opts ...Option) *Future[bool]
	PullDB(ctx context.Context, source string, opts ...Option) *Future[*ReplicationResult]
	Replicate(ctx context.Context, source, target string, opts ...Option) *Future[*ReplicationResult]
	UUIDs(ctx context.Context, count int, opts ...Option) *Future[[]string]

	GetDoc(ctx context.Context, docID string, opts ...Option) *Future[Document]
	HasDoc(ctx context.Context, docID string, opts ...Option) *Future[bool]
	GetDocs(ctx context.Context, docIDs []string, opts ...Option) *Future[[]Document]
	SaveDoc(ctx context.Context, doc Document, opts ...Option) *Future[Document]
	SaveDocs(ctx context.Context, docs []Document, opts ...Option) *Future[[]DocRev]
	DeleteDoc(ctx context.Context, doc Document, opts ...Option) *Future[DocRev]
	DeleteDocs(ctx context.Context, docs []Document, opts ...Option) *Future[[]DocRev]

	GetAttachment(ctx context.Context, doc Document, name, contentType string, opts ...Option) *Future[[]byte]
	SaveAttachment(ctx context.Context, doc Document, att *Attachment, opts ...Option) *Future[DocRev]
	DeleteAttachment(ctx context.Context, doc Document, name string, opts ...Option) *Future[DocRev]

	View(ctx context.Context, ddoc, view string, q *ViewQuery, opts ...Option) *Future[*ViewResult]
	ViewAllDocs(ctx context.Context, q *ViewQuery, opts ...Option) *Future[*ViewResult]
	TempView(ctx context.Context, view TempViewDoc, q *ViewQuery, opts ...Option) *Future[*ViewResult]

	Use(db, dsn string) error
	DBName() string
	URL() string
	Close() error
}

// Client is a blocking CouchDB client. Each method returns once the
// operation is complete.
//
// A Client runs the operations of a private [AsyncClient] on its own
// single-worker [Loop], so calls made from several goroutines run one after
// another, and never wait on work of any other client.
type Client struct {
	couch Couch
}

// New returns a blocking client for the server at dsn, operating on database
// db. An empty dsn means [DefaultURL].
func New(dsn, db string, opts ...Option) (*Client, error) {
	async, err := newAsync(dsn, db, NewLoop(1), newConfig(opts), opts)
	if err != nil {
		return nil, err
	}
	return &Client{couch: async}, nil
}

func wait[T any](f *Future[T]) (T, error) {
	return f.Result()
}

// CreateDB creates the database.
func (c *Client) CreateDB(ctx context.Context, opts ...Option) error {
	_, err := wait(c.couch.CreateDB(ctx, opts...))
	return err
}

// DeleteDB deletes the database.
func (c *Client) DeleteDB(ctx context.Context, opts ...Option) error {
	_, err := wait(c.couch.DeleteDB(ctx, opts...))
	return err
}

// ListDBs returns the names of all databases on the server.
func (c *Client) ListDBs(ctx context.Context, opts ...Option) ([]string, error) {
	return wait(c.couch.ListDBs(ctx, opts...))
}

// InfoDB returns information about the database.
func (c *Client) InfoDB(ctx context.Context, opts ...Option) (*DBInfo, error) {
	return wait(c.couch.InfoDB(ctx, opts...))
}

// DBExists reports whether the database exists.
func (c *Client) DBExists(ctx context.Context, opts ...Option) (bool, error) {
	return wait(c.couch.DBExists(ctx, opts...))
}

// PullDB replicates source into the current database.
func (c *Client) PullDB(ctx context.Context, source string, opts ...Option) (*ReplicationResult, error) {
	return wait(c.couch.PullDB(ctx, source, opts...))
}

// Replicate replicates source into target.
func (c *Client) Replicate(ctx context.Context, source, target string, opts ...Option) (*ReplicationResult, error) {
	return wait(c.couch.Replicate(ctx, source, target, opts...))
}

// UUIDs returns count server-generated UUIDs.
func (c *Client) UUIDs(ctx context.Context, count int, opts ...Option) ([]string, error) {
	return wait(c.couch.UUIDs(ctx, count, opts...))
}

// GetDoc fetches a document by ID.
func (c *Client) GetDoc(ctx context.Context, docID string, opts ...Option) (Document, error) {
	return wait(c.couch.GetDoc(ctx, docID, opts...))
}

// HasDoc reports whether a document exists.
func (c *Client) HasDoc(ctx context.Context, docID string, opts ...Option) (bool, error) {
	return wait(c.couch.HasDoc(ctx, docID, opts...))
}

// GetDocs fetches several documents in one request.
func (c *Client) GetDocs(ctx context.Context, docIDs []string, opts ...Option) ([]Document, error) {
	return wait(c.couch.GetDocs(ctx, docIDs, opts...))
}

// SaveDoc creates or updates a document, and returns a copy of it with the
// new _id and _rev.
func (c *Client) SaveDoc(ctx context.Context, doc Document, opts ...Option) (Document, error) {
	return wait(c.couch.SaveDoc(ctx, doc, opts...))
}

// SaveDocs writes docs in one bulk request.
func (c *Client) SaveDocs(ctx context.Context, docs []Document, opts ...Option) ([]DocRev, error) {
	return wait(c.couch.SaveDocs(ctx, docs, opts...))
}

// DeleteDoc deletes a document.
func (c *Client) DeleteDoc(ctx context.Context, doc Document, opts ...Option) (DocRev, error) {
	return wait(c.couch.DeleteDoc(ctx, doc, opts...))
}

// DeleteDocs deletes docs in one bulk request.
func (c *Client) DeleteDocs(ctx context.Context, docs []Document, opts ...Option) ([]DocRev, error) {
	return wait(c.couch.DeleteDocs(ctx, docs, opts...))
}

// GetAttachment fetches the raw content of an attachment.
func (c *Client) GetAttachment(ctx context.Context, doc Document, name, contentType string, opts ...Option) ([]byte, error) {
	return wait(c.couch.GetAttachment(ctx, doc, name, contentType, opts...))
}

// SaveAttachment stores att on doc.
func (c *Client) SaveAttachment(ctx context.Context, doc Document, att *Attachment, opts ...Option) (DocRev, error) {
	return wait(c.couch.SaveAttachment(ctx, doc, att, opts...))
}

// DeleteAttachment removes an attachment from doc.
func (c *Client) DeleteAttachment(ctx context.Context, doc Document, name string, opts ...Option) (DocRev, error) {
	return wait(c.couch.DeleteAttachment(ctx, doc, name, opts...))
}

// View queries a stored view.
func (c *Client) View(ctx context.Context, ddoc, view string, q *ViewQuery, opts ...Option) (*ViewResult, error) {
	return wait(c.couch.View(ctx, ddoc, view, q, opts...))
}

// ViewAllDocs queries the _all_docs index.
func (c *Client) ViewAllDocs(ctx context.Context, q *ViewQuery, opts ...Option) (*ViewResult, error) {
	return wait(c.couch.ViewAllDocs(ctx, q, opts...))
}

// TempView runs an ad-hoc view.
func (c *Client) TempView(ctx context.Context, view TempViewDoc, q *ViewQuery, opts ...Option) (*ViewResult, error) {
	return wait(c.couch.TempView(ctx, view, q, opts...))
}

// Use switches the client to database db on the server at dsn. An empty dsn
// keeps the current server.
func (c *Client) Use(db, dsn string) error {
	return c.couch.Use(db, dsn)
}

// DBName returns the current database name.
func (c *Client) DBName() string {
	return c.couch.DBName()
}

// URL returns the current server URL.
func (c *Client) URL() string {
	return c.couch.URL()
}

// Close rejects further calls with [ErrClosed], and tears down the private
// loop once the running operation finishes.
func (c *Client) Close() error {
	return c.couch.Close()
}
