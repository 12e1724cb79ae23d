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
	"encoding/json"
)

// Reserved document keys.
const (
	KeyID          = "_id"
	KeyRev         = "_rev"
	KeyDeleted     = "_deleted"
	KeyAttachments = "_attachments"
)

// Document is a CouchDB document.
type Document map[string]interface{}

// ID returns the document's _id, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[KeyID].(string)
	return id
}

// Rev returns the document's _rev, or "" if it has none.
func (d Document) Rev() string {
	rev, _ := d[KeyRev].(string)
	return rev
}

// IsNew reports whether the document has never been saved: it lacks an ID,
// or it has an ID but no revision.
func (d Document) IsNew() bool {
	return d.ID() == "" || d.Rev() == ""
}

// withRev returns a shallow copy of d with _id and _rev set.
func (d Document) withRev(id, rev string) Document {
	out := make(Document, len(d)+2) // nolint:gomnd
	for k, v := range d {
		out[k] = v
	}
	out[KeyID] = id
	out[KeyRev] = rev
	return out
}

// Attachments returns the attachment metadata held in the document's
// _attachments field.
func (d Document) Attachments() map[string]AttachmentMeta {
	raw, ok := d[KeyAttachments]
	if !ok {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var atts map[string]AttachmentMeta
	if err := json.Unmarshal(buf, &atts); err != nil {
		return nil
	}
	return atts
}

// DocRev is the id and revision pair returned by a write.
type DocRev struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Attachment is a file to store alongside a document.
type Attachment struct {
	Name        string `validate:"required"`
	ContentType string `validate:"required"`
	Data        []byte `validate:"required"`
}

// AttachmentMeta describes a stored attachment, as found in a document's
// _attachments field.
type AttachmentMeta struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
	RevPos      int    `json:"revpos,omitempty"`
}

// Row is one row of a view result.
type Row struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   Document    `json:"doc,omitempty"`
}

// ViewResult is the result of a view query.
type ViewResult struct {
	TotalRows int         `json:"total_rows"`
	Offset    int         `json:"offset"`
	UpdateSeq interface{} `json:"update_seq,omitempty"`
	Rows      []Row       `json:"rows"`
}

// DBInfo is the information CouchDB returns about a database.
type DBInfo struct {
	Name           string      `json:"db_name"`
	DocCount       int64       `json:"doc_count"`
	DeletedCount   int64       `json:"doc_del_count"`
	UpdateSeq      interface{} `json:"update_seq"`
	CompactRunning bool        `json:"compact_running"`
	Sizes          struct {
		File     int64 `json:"file"`
		External int64 `json:"external"`
		Active   int64 `json:"active"`
	} `json:"sizes"`

	// Raw is the complete response.
	Raw map[string]interface{} `json:"-"`
}

// UnmarshalJSON satisfies the json.Unmarshaler interface.
func (i *DBInfo) UnmarshalJSON(p []byte) error {
	type alias DBInfo
	var info alias
	if err := json.Unmarshal(p, &info); err != nil {
		return err
	}
	if err := json.Unmarshal(p, &info.Raw); err != nil {
		return err
	}
	*i = DBInfo(info)
	return nil
}

// ReplicationResult is the outcome of a one-off replication.
type ReplicationResult struct {
	OK            bool                     `json:"ok"`
	SessionID     string                   `json:"session_id,omitempty"`
	SourceLastSeq interface{}              `json:"source_last_seq,omitempty"`
	History       []map[string]interface{} `json:"history,omitempty"`
	NoChanges     bool                     `json:"no_changes,omitempty"`
}

// TempViewDoc is the ad-hoc view posted to _temp_view.
type TempViewDoc struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}
