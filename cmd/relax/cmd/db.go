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

	"github.com/go-kivik/relax"
	"github.com/go-kivik/relax/cmd/relax/errors"
)

func listDBsCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:     "list-dbs",
		Aliases: []string{"dbs"},
		Short:   "List all databases",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.retry(func() error {
				dbs, err := r.client.ListDBs(cmd.Context()).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, dbs)
			})
		},
	}
}

func createDBCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "create-db [database]",
		Short: "Create a database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				_, err := r.client.CreateDB(cmd.Context(), dbOpts(args, 0)...).Wait(cmd.Context())
				return err
			})
		},
	}
}

func deleteDBCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-db [database]",
		Short: "Delete a database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				_, err := r.client.DeleteDB(cmd.Context(), dbOpts(args, 0)...).Wait(cmd.Context())
				return err
			})
		},
	}
}

func infoCmd(r *root) *cobra.Command {
	var exists bool
	c := &cobra.Command{
		Use:   "info [database]",
		Short: "Describe a database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.retry(func() error {
				if exists {
					ok, err := r.client.DBExists(cmd.Context(), dbOpts(args, 0)...).Wait(cmd.Context())
					if err != nil {
						return err
					}
					if !ok {
						return errors.Code(errors.ErrNotFound, "database does not exist")
					}
					return r.output(cmd, ok)
				}
				info, err := r.client.InfoDB(cmd.Context(), dbOpts(args, 0)...).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, info.Raw)
			})
		},
	}
	c.Flags().BoolVar(&exists, "exists", false, "Only check that the database exists")
	return c
}

func uuidsCmd(r *root) *cobra.Command {
	var count int
	c := &cobra.Command{
		Use:   "uuids",
		Short: "Fetch server-generated UUIDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.retry(func() error {
				ids, err := r.client.UUIDs(cmd.Context(), count).Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, ids)
			})
		},
	}
	c.Flags().IntVarP(&count, "count", "n", 1, "Number of UUIDs to fetch")
	return c
}

func pullCmd(r *root) *cobra.Command {
	var createTarget bool
	var target string
	c := &cobra.Command{
		Use:   "pull <source>",
		Short: "Replicate a remote database into the current one",
		Long:  "Replicate source into the current database, or into --target when given. source may be a database name, or a full URL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []relax.Option
			if createTarget {
				opts = append(opts, relax.CreateTarget())
			}
			return r.retry(func() error {
				var f *relax.Future[*relax.ReplicationResult]
				if target != "" {
					f = r.client.Replicate(cmd.Context(), args[0], target, opts...)
				} else {
					f = r.client.PullDB(cmd.Context(), args[0], opts...)
				}
				res, err := f.Wait(cmd.Context())
				if err != nil {
					return err
				}
				return r.output(cmd, res)
			})
		},
	}
	c.Flags().BoolVar(&createTarget, "create-target", false, "Create the target database if it does not exist")
	c.Flags().StringVar(&target, "target", "", "Replicate to this database name or URL instead of the current database")
	return c
}
