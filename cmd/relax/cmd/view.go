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

package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/errors"
)

const allDocs = "_all_docs"

type viewFlags struct {
	key, startKey, endKey, keys string
	startKeyDocID, endKeyDocID  string
	limit, skip, groupLevel     int
	descending, group           bool
	includeDocs, noReduce       bool
	exclusiveEnd, updateSeq     bool
	stale                       string
	mapSrc, reduceSrc           string
}

func viewCmd(r *root) *cobra.Command {
	vf := &viewFlags{}
	c := &cobra.Command{
		Use:   "view <ddoc> <view> | view _all_docs | view --map <function>",
		Short: "Query a view",
		Long:  "Query a design document view, the _all_docs index, or, with --map, a temporary view. Key flags take JSON values.",
		Args:  cobra.MaximumNArgs(2), // nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := vf.query(cmd)
			if err != nil {
				return err
			}
			var run func() *relax.Future[*relax.ViewResult]
			switch {
			case vf.mapSrc != "":
				if len(args) > 0 {
					return errors.Code(errors.ErrUsage, "--map takes no arguments")
				}
				tv := relax.TempViewDoc{Map: vf.mapSrc, Reduce: vf.reduceSrc}
				run = func() *relax.Future[*relax.ViewResult] { return r.client.TempView(cmd.Context(), tv, q) }
			case len(args) == 1 && args[0] == allDocs:
				run = func() *relax.Future[*relax.ViewResult] { return r.client.ViewAllDocs(cmd.Context(), q) }
			case len(args) == 2: // nolint:gomnd
				run = func() *relax.Future[*relax.ViewResult] { return r.client.View(cmd.Context(), args[0], args[1], q) }
			default:
				return errors.Code(errors.ErrUsage, "a design document and view name, _all_docs, or --map is required")
			}
			return r.retry(func() error {
				res, err := run().Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, res)
			})
		},
	}
	f := c.Flags()
	f.StringVar(&vf.key, "key", "", "Only rows with this key (JSON)")
	f.StringVar(&vf.keys, "keys", "", "Only rows with these keys (JSON array)")
	f.StringVar(&vf.startKey, "start-key", "", "First key to return (JSON)")
	f.StringVar(&vf.endKey, "end-key", "", "Last key to return (JSON)")
	f.StringVar(&vf.startKeyDocID, "start-key-doc-id", "", "Document ID tie-breaker for --start-key")
	f.StringVar(&vf.endKeyDocID, "end-key-doc-id", "", "Document ID tie-breaker for --end-key")
	f.IntVar(&vf.limit, "limit", 0, "Maximum number of rows")
	f.IntVar(&vf.skip, "skip", 0, "Number of rows to skip")
	f.IntVar(&vf.groupLevel, "group-level", 0, "Group array keys to this many elements")
	f.BoolVar(&vf.descending, "descending", false, "Return rows in descending key order")
	f.BoolVar(&vf.group, "group", false, "Group reduced results by key")
	f.BoolVar(&vf.includeDocs, "include-docs", false, "Include each row's document")
	f.BoolVar(&vf.noReduce, "no-reduce", false, "Skip the reduce function")
	f.BoolVar(&vf.exclusiveEnd, "exclusive-end", false, "Exclude rows matching --end-key")
	f.BoolVar(&vf.updateSeq, "update-seq", false, "Include the update sequence in the result")
	f.StringVar(&vf.stale, "stale", "", "Allow stale results. One of: ok|update_after")
	f.StringVar(&vf.mapSrc, "map", "", "Map function source, for a temporary view")
	f.StringVar(&vf.reduceSrc, "reduce", "", "Reduce function source, for a temporary view")
	return c
}

func (vf *viewFlags) query(cmd *cobra.Command) (*relax.ViewQuery, error) {
	q := &relax.ViewQuery{
		StartKeyDocID: vf.startKeyDocID,
		EndKeyDocID:   vf.endKeyDocID,
		Stale:         vf.stale,
		Descending:    vf.descending,
		Group:         vf.group,
		IncludeDocs:   vf.includeDocs,
		UpdateSeq:     vf.updateSeq,
	}
	for flag, dst := range map[string]*interface{}{
		"key":       &q.Key,
		"start-key": &q.StartKey,
		"end-key":   &q.EndKey,
	} {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		if err := parseJSONFlag(cmd, flag, dst); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("keys") {
		if err := parseJSONFlag(cmd, "keys", &q.Keys); err != nil {
			return nil, err
		}
		if q.Keys == nil {
			q.Keys = []interface{}{}
		}
	}
	if cmd.Flags().Changed("limit") {
		q.Limit = relax.Int(vf.limit)
	}
	if cmd.Flags().Changed("skip") {
		q.Skip = relax.Int(vf.skip)
	}
	if cmd.Flags().Changed("group-level") {
		q.GroupLevel = relax.Int(vf.groupLevel)
	}
	if vf.noReduce {
		q.Reduce = relax.Bool(false)
	}
	if vf.exclusiveEnd {
		q.InclusiveEnd = relax.Bool(false)
	}
	return q, nil
}

func parseJSONFlag(cmd *cobra.Command, flag string, dst interface{}) error {
	raw, _ := cmd.Flags().GetString(flag)
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.Codef(errors.ErrUsage, "--%s: %s", flag, err)
	}
	return nil
}
