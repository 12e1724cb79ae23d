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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/input"
)

func getCmd(r *root) *cobra.Command {
	var bulk bool
	c := &cobra.Command{
		Use:   "get <id>...",
		Short: "Fetch documents",
		Long:  "Fetch one or more documents. A single document is printed as an object, several as an array in argument order.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				var docs []relax.Document
				var err error
				if bulk {
					docs, err = r.client.GetDocs(cmd.Context(), args).Wait(cmd.Context())
				} else {
					docs, err = r.getEach(cmd, args)
				}
				if err != nil {
					return err
				}
				if len(docs) == 1 {
					return r.output(cmd, docs[0])
				}
				return r.output(cmd, docs)
			})
		},
	}
	c.Flags().BoolVar(&bulk, "bulk", false, "Fetch all documents in a single _all_docs request")
	return c
}

// getEach fetches each document with its own request, all in flight at
// once.
func (r *root) getEach(cmd *cobra.Command, ids []string) ([]relax.Document, error) {
	futures := make([]*relax.Future[relax.Document], len(ids))
	for i, id := range ids {
		futures[i] = r.client.GetDoc(cmd.Context(), id)
	}
	docs := make([]relax.Document, len(ids))
	g, ctx := errgroup.WithContext(cmd.Context())
	for i, f := range futures {
		i, f := i, f
		g.Go(func() error {
			doc, err := f.Wait(ctx)
			docs[i] = doc
			return err
		})
	}
	return docs, g.Wait()
}

func putCmd(r *root) *cobra.Command {
	in := input.New()
	var id string
	c := &cobra.Command{
		Use:   "put",
		Short: "Create or update a document",
		Long:  "Save the document given with --data or --data-file. The document is created when it has no _rev, and updated otherwise. The saved _id and _rev are printed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.SetStdin(cmd.InOrStdin())
			doc, err := in.Document()
			if err != nil {
				return err
			}
			if id != "" {
				doc[relax.KeyID] = id
			}
			return r.retry(func() error {
				saved, err := r.client.SaveDoc(cmd.Context(), doc).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, relax.DocRev{ID: saved.ID(), Rev: saved.Rev()})
			})
		},
	}
	in.ConfigFlags(c.Flags())
	c.Flags().StringVar(&id, "id", "", "Document ID, overriding any _id in the data")
	return c
}

func deleteCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> [rev]",
		Short: "Delete a document",
		Long:  "Delete a document. Without rev, the current revision is fetched first.",
		Args:  cobra.RangeArgs(1, 2), // nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				doc, err := r.current(cmd, args)
				if err != nil {
					return err
				}
				res, err := r.client.DeleteDoc(cmd.Context(), doc).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, res)
			})
		},
	}
}

// current returns a document holding the ID in args[0] and the revision in
// args[1], fetching the document when no revision is given.
func (r *root) current(cmd *cobra.Command, args []string) (relax.Document, error) {
	if len(args) > 1 {
		return relax.Document{relax.KeyID: args[0], relax.KeyRev: args[1]}, nil
	}
	r.log.Debugf("Fetching current revision of %q", args[0])
	return r.client.GetDoc(cmd.Context(), args[0]).Wait(cmd.Context())
}
