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

package relax_test

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/go-kivik/relax"
)

// byTypeMap is the JavaScript source of the by_type view, used by real
// servers. The fake server runs the Go equivalent registered for it.
const byTypeMap = "function(doc) { if (doc.type) { emit(doc.type, 1); } }"

// lifecycle describes how the shared scenario may reach the server under
// test.
type lifecycle struct {
	// base is the server URL, with credentials, replication endpoints are
	// built from.
	base string
	// tempView is set when the server offers _temp_view.
	tempView bool
	// localTarget is set when a replication target may be a bare database
	// name.
	localTarget bool
}

func viewKeys(res *relax.ViewResult) []interface{} {
	keys := make([]interface{}, 0, len(res.Rows))
	for _, row := range res.Rows {
		keys = append(keys, row.Key)
	}
	return keys
}

// run walks a database through its whole life: creation, document and
// attachment round trips, views, replication and deletion. The client's
// current database must not exist yet.
func (lc lifecycle) run(t *testing.T, c *relax.Client) {
	t.Helper()
	ctx := context.Background()
	db := c.DBName()

	if err := c.CreateDB(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateDB(ctx); relax.HTTPStatus(err) != http.StatusPreconditionFailed {
		t.Errorf("second create: %v", err)
	}
	if exists, err := c.DBExists(ctx); err != nil || !exists {
		t.Errorf("DBExists: %t, %v", exists, err)
	}
	dbs, err := c.ListDBs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if i := sort.SearchStrings(dbs, db); i >= len(dbs) || dbs[i] != db {
		t.Errorf("%s not in %v", db, dbs)
	}

	// Documents
	saved, err := c.SaveDoc(ctx, relax.Document{"type": "a", "n": 1})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID() == "" || !strings.HasPrefix(saved.Rev(), "1-") {
		t.Errorf("Unexpected first save: %v", saved)
	}
	hello := relax.Document{"msg": "hello"}
	savedHello, err := c.SaveDoc(ctx, hello)
	if err != nil {
		t.Fatal(err)
	}
	wantHello := relax.Document{"msg": "hello", "_id": savedHello.ID(), "_rev": savedHello.Rev()}
	if d := cmp.Diff(wantHello, savedHello); d != "" {
		t.Errorf("saved hello:\n%s", d)
	}
	gotHello, err := c.GetDoc(ctx, savedHello.ID())
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(wantHello, gotHello); d != "" {
		t.Errorf("fetched hello:\n%s", d)
	}
	if d := cmp.Diff(relax.Document{"msg": "hello"}, hello); d != "" {
		t.Errorf("input modified:\n%s", d)
	}
	if _, err := c.SaveDoc(ctx, relax.Document{"_id": "x/y z", "type": "b"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetDoc(ctx, "x/y z")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != "x/y z" || got["type"] != "b" {
		t.Errorf("Unexpected document: %v", got)
	}
	if has, err := c.HasDoc(ctx, "x/y z"); err != nil || !has {
		t.Errorf("HasDoc: %t, %v", has, err)
	}
	if has, err := c.HasDoc(ctx, "nope"); err != nil || has {
		t.Errorf("HasDoc missing: %t, %v", has, err)
	}
	saved["n"] = 2
	updated, err := c.SaveDoc(ctx, saved)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(updated.Rev(), "2-") {
		t.Errorf("Unexpected rev after update: %s", updated.Rev())
	}
	if _, err := c.SaveDoc(ctx, saved); !relax.IsConflict(err) {
		t.Errorf("stale save: %v", err)
	}

	// Bulk
	revs, err := c.SaveDocs(ctx, []relax.Document{{"_id": "bulk1", "type": "a"}, {"_id": "bulk2", "type": "c"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 2 || revs[0].ID != "bulk1" || revs[1].ID != "bulk2" {
		t.Errorf("Unexpected bulk result: %v", revs)
	}
	bulk, err := c.GetDocs(ctx, []string{"bulk2", "bulk1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bulk) != 2 || bulk[0].ID() != "bulk2" || bulk[1].ID() != "bulk1" {
		t.Errorf("Unexpected bulk get: %v", bulk)
	}
	if _, err := c.GetDocs(ctx, []string{"bulk1", "missing"}); !relax.IsNotFound(err) {
		t.Errorf("bulk get with a missing doc: %v", err)
	}

	// Views
	ddoc := relax.Document{
		"_id": "_design/app",
		"views": map[string]interface{}{
			"by_type": map[string]interface{}{"map": byTypeMap, "reduce": "_count"},
		},
	}
	if _, err := c.SaveDoc(ctx, ddoc); err != nil {
		t.Fatal(err)
	}
	res, err := c.View(ctx, "_design/app", "by_type", &relax.ViewQuery{Key: "a", Reduce: relax.Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]interface{}{"a", "a"}, viewKeys(res)); d != "" {
		t.Errorf("by key:\n%s", d)
	}
	res, err = c.View(ctx, "app", "by_type", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Value != float64(4) {
		t.Errorf("Unexpected reduction: %+v", res.Rows)
	}
	res, err = c.View(ctx, "app", "by_type", &relax.ViewQuery{Group: true})
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]interface{}{"a", "b", "c"}, viewKeys(res)); d != "" {
		t.Errorf("grouped:\n%s", d)
	}
	res, err = c.View(ctx, "app", "by_type", &relax.ViewQuery{Keys: []interface{}{"c", "b"}, Reduce: relax.Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]interface{}{"c", "b"}, viewKeys(res)); d != "" {
		t.Errorf("by keys:\n%s", d)
	}
	res, err = c.ViewAllDocs(ctx, &relax.ViewQuery{StartKey: "bulk", EndKey: "bulk" + relax.EndKeySuffix, IncludeDocs: true})
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]interface{}{"bulk1", "bulk2"}, viewKeys(res)); d != "" {
		t.Errorf("all docs range:\n%s", d)
	}
	for _, row := range res.Rows {
		if row.Doc.ID() != row.ID {
			t.Errorf("row %s has doc %v", row.ID, row.Doc)
		}
	}
	if _, err := c.View(ctx, "app", "nope", nil); !relax.IsNotFound(err) {
		t.Errorf("missing view: %v", err)
	}
	if lc.tempView {
		res, err = c.TempView(ctx, relax.TempViewDoc{Map: byTypeMap}, &relax.ViewQuery{Key: "b"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Rows) != 1 || res.Rows[0].ID != "x/y z" {
			t.Errorf("Unexpected temp view rows: %+v", res.Rows)
		}
	}

	// Attachments
	if _, err := c.SaveAttachment(ctx, updated, &relax.Attachment{Name: "hello.txt", ContentType: "text/plain", Data: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	withAtt, err := c.GetDoc(ctx, updated.ID())
	if err != nil {
		t.Fatal(err)
	}
	if meta := withAtt.Attachments()["hello.txt"]; meta.ContentType != "text/plain" || !meta.Stub || meta.Length != 5 {
		t.Errorf("Unexpected attachment stub: %+v", meta)
	}
	data, err := c.GetAttachment(ctx, withAtt, "hello.txt", "")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("Unexpected attachment content: %q", data)
	}
	afterDelete, err := c.DeleteAttachment(ctx, withAtt, "hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetAttachment(ctx, withAtt, "hello.txt", ""); !relax.IsNotFound(err) {
		t.Errorf("deleted attachment: %v", err)
	}

	// Deletion
	if _, err := c.DeleteDoc(ctx, relax.Document{"_id": afterDelete.ID, "_rev": afterDelete.Rev}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetDoc(ctx, updated.ID()); !relax.IsNotFound(err) {
		t.Errorf("deleted document: %v", err)
	}
	if has, err := c.HasDoc(ctx, updated.ID()); err != nil || has {
		t.Errorf("HasDoc after delete: %t, %v", has, err)
	}
	if _, err := c.DeleteDocs(ctx, bulk); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetDocs(ctx, []string{"bulk1"}); !relax.IsNotFound(err) {
		t.Errorf("bulk deleted document: %v", err)
	}
	all, err := c.ViewAllDocs(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	remaining := map[string]bool{}
	for _, row := range all.Rows {
		remaining[row.ID] = true
	}
	for _, id := range []string{updated.ID(), "bulk1", "bulk2"} {
		if remaining[id] {
			t.Errorf("deleted %s still listed in all docs", id)
		}
	}
	for _, id := range []string{savedHello.ID(), "x/y z", "_design/app"} {
		if !remaining[id] {
			t.Errorf("%s missing from all docs", id)
		}
	}
	info, err := c.InfoDB(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != db || info.DocCount != 3 || info.DeletedCount != 3 {
		t.Errorf("Unexpected info: %+v", info)
	}

	uuids, err := c.UUIDs(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(uuids) != 3 || uuids[0] == uuids[1] {
		t.Errorf("Unexpected uuids: %v", uuids)
	}

	// Replication
	src := db + "-src"
	if err := c.CreateDB(ctx, relax.Database(src)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SaveDoc(ctx, relax.Document{"_id": "pulled"}, relax.Database(src)); err != nil {
		t.Fatal(err)
	}
	var result *relax.ReplicationResult
	if lc.localTarget {
		result, err = c.PullDB(ctx, lc.base+src)
	} else {
		result, err = c.Replicate(ctx, lc.base+src, lc.base+db)
	}
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Errorf("Unexpected replication result: %+v", result)
	}
	if has, err := c.HasDoc(ctx, "pulled"); err != nil || !has {
		t.Errorf("replicated doc: %t, %v", has, err)
	}

	for _, name := range []string{src, db} {
		if err := c.DeleteDB(ctx, relax.Database(name)); err != nil {
			t.Error(err)
		}
	}
	if exists, err := c.DBExists(ctx); err != nil || exists {
		t.Errorf("DBExists after delete: %t, %v", exists, err)
	}
}
