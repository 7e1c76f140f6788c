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
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/input"
)

type bulkDelete struct {
	*root
	in            *input.Input
	all           bool
	includeDesign bool
	chunkSize     int

	deleted, failed, requests int
}

func bulkDeleteCmd(r *root) *cobra.Command {
	c := &bulkDelete{
		root: r,
	}
	cmd := &cobra.Command{
		Use:   "bulk-delete [dsn]",
		Short: "Delete documents in bulk",
		Long: `Delete the documents read from the input, each of which must carry _id and
_rev, or with --all every document in the database.

Documents are deleted with one _bulk_docs request per --chunk-size
documents.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.RunE,
	}
	c.in = input.New(nil)
	c.in.ConfigFlags(cmd.Flags())
	f := cmd.Flags()
	f.BoolVar(&c.all, "all", false, "Delete every document in the database")
	f.BoolVar(&c.includeDesign, "include-design", false, "With --all, delete design documents too")
	f.IntVar(&c.chunkSize, "chunk-size", couchbulk.DefaultMaxArrayLength, "Documents per request")

	return cmd
}

func (c *bulkDelete) RunE(cmd *cobra.Command, args []string) error {
	if c.all == c.in.HasInput() {
		return errors.Code(errors.ErrUsage, "exactly one of --all or document input is required")
	}
	if c.chunkSize <= 0 {
		return errors.Code(errors.ErrUsage, "--chunk-size must be greater than zero")
	}
	c.in.SetStdin(cmd.InOrStdin())
	db, err := c.database(dsnArg(args, 0))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if c.all {
		err = c.deleteAll(ctx, db)
	} else {
		err = c.deleteInput(ctx, db)
	}
	c.log.Infof("Deleted %d documents in %d requests, %d errors", c.deleted, c.requests, c.failed)
	return err
}

func (c *bulkDelete) deleteInput(ctx context.Context, db *couchbulk.DB) error {
	chunk := make([]interface{}, 0, c.chunkSize)
	err := c.in.Each(func(doc json.RawMessage) error {
		chunk = append(chunk, doc)
		if len(chunk) < c.chunkSize {
			return nil
		}
		err := c.deleteChunk(ctx, db, chunk)
		chunk = chunk[:0]
		return err
	})
	if err != nil {
		return err
	}
	return c.deleteChunk(ctx, db, chunk)
}

// deleteAll pages through the database by key, deleting each page as it
// arrives. Deleting visited documents does not disturb the continuation.
func (c *bulkDelete) deleteAll(ctx context.Context, db *couchbulk.DB) error {
	opts := []couchbulk.Option{c.opts(), couchbulk.PageSize(c.chunkSize)}
	return db.AllDocs(ctx, opts...).Each(func(page []couchbulk.Document) error {
		chunk := make([]interface{}, 0, len(page))
		for _, doc := range page {
			if !c.includeDesign && strings.HasPrefix(doc.ID(), "_design/") {
				continue
			}
			chunk = append(chunk, map[string]string{"_id": doc.ID(), "_rev": doc.Rev()})
		}
		return c.deleteChunk(ctx, db, chunk)
	})
}

func (c *bulkDelete) deleteChunk(ctx context.Context, db *couchbulk.DB, chunk []interface{}) error {
	if len(chunk) == 0 {
		return nil
	}
	var result *couchbulk.BulkResult
	err := c.retry(func() error {
		var err error
		result, err = db.BulkDelete(ctx, chunk...)
		return err
	})
	if err != nil {
		return err
	}
	c.requests++
	c.deleted += result.Docs - result.Errors
	c.failed += result.Errors
	if !result.OK() && result.Errors == 0 {
		c.log.Warnf("Bulk delete failed with status %d", result.Status)
	}
	return nil
}
