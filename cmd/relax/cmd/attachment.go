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
	"os"

	"github.com/spf13/cobra"

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/errors"
	"github.com/go-kivik/relax/cmd/relax/input"
)

func getAttachmentCmd(r *root) *cobra.Command {
	var contentType, out string
	c := &cobra.Command{
		Use:   "get-attachment <id> <name>",
		Short: "Fetch an attachment's content",
		Long:  "Fetch the raw content of an attachment. Without --type, the document is fetched first to find the recorded content type.",
		Args:  cobra.ExactArgs(2), // nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				doc := relax.Document{relax.KeyID: args[0]}
				if contentType == "" {
					var err error
					if doc, err = r.client.GetDoc(cmd.Context(), args[0]).Wait(cmd.Context()); err != nil {
						return err
					}
				}
				data, err := r.client.GetAttachment(cmd.Context(), doc, args[1], contentType).Wait(cmd.Context())
				if err != nil {
					return err
				}
				if out == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return errors.WithCode(err, errors.ErrIO)
				}
				return errors.WithCode(os.WriteFile(out, data, 0o644), errors.ErrCantCreate) // nolint:gomnd
			})
		},
	}
	c.Flags().StringVarP(&contentType, "type", "t", "", "Content type to request")
	c.Flags().StringVar(&out, "out", "", "Write the content to this file instead of stdout")
	return c
}

func putAttachmentCmd(r *root) *cobra.Command {
	in := input.New()
	var contentType string
	c := &cobra.Command{
		Use:   "put-attachment <id> <name> [rev]",
		Short: "Store an attachment",
		Long:  "Store the content given with --data or --data-file as an attachment. Without rev, the current revision is fetched first; a missing document is created.",
		Args:  cobra.RangeArgs(2, 3), // nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SetStdin(cmd.InOrStdin())
			data, err := in.Raw()
			if err != nil {
				return err
			}
			att := &relax.Attachment{Name: args[1], ContentType: contentType, Data: data}
			return r.retry(func() error {
				doc := relax.Document{relax.KeyID: args[0]}
				if len(args) > 2 { // nolint:gomnd
					doc[relax.KeyRev] = args[2]
				} else if cur, err := r.client.GetDoc(cmd.Context(), args[0]).Wait(cmd.Context()); err == nil {
					doc = cur
				} else if !relax.IsNotFound(err) {
					return err
				}
				res, err := r.client.SaveAttachment(cmd.Context(), doc, att).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, res)
			})
		},
	}
	in.ConfigFlags(c.Flags())
	c.Flags().StringVarP(&contentType, "type", "t", "application/octet-stream", "Content type of the attachment")
	return c
}

func deleteAttachmentCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-attachment <id> <name> [rev]",
		Short: "Delete an attachment",
		Long:  "Delete an attachment. Without rev, the current revision is fetched first.",
		Args:  cobra.RangeArgs(2, 3), // nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				docArgs := []string{args[0]}
				if len(args) > 2 { // nolint:gomnd
					docArgs = append(docArgs, args[2])
				}
				doc, err := r.current(cmd, docArgs)
				if err != nil {
					return err
				}
				res, err := r.client.DeleteAttachment(cmd.Context(), doc, args[1]).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, res)
			})
		},
	}
}
