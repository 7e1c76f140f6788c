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
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
)

type copyDB struct {
	*root
	bulkFlags
	pageSize     int
	createTarget bool
	keepRevs     bool
}

func copyCmd(r *root) *cobra.Command {
	c := &copyDB{
		root: r,
	}
	cmd := &cobra.Command{
		Use:   "copy SOURCE TARGET",
		Short: "Copy all documents from one database to another",
		Long: `Page through every document of SOURCE, and write them to TARGET in bulk
requests. Reading and writing proceed concurrently.

Revisions are stripped by default, so the copies are new documents in
TARGET. Either DSN may name only a database, in which case the server of
the current context is used.`,
		Args: cobra.ExactArgs(2), // nolint:gomnd
		RunE: c.RunE,
	}
	c.configFlags(cmd)
	f := cmd.Flags()
	f.IntVar(&c.pageSize, "page-size", 0, "Documents per read request. Defaults to 750.")
	f.BoolVar(&c.createTarget, "create-target", false, "Create the target database if it does not exist")
	f.BoolVar(&c.keepRevs, "keep-revs", false, "Send source revisions to the target")

	return cmd
}

func (c *copyDB) RunE(cmd *cobra.Command, args []string) error {
	source, err := c.database(args[0])
	if err != nil {
		return err
	}
	target, err := c.database(args[1])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if c.createTarget {
		err := c.retry(func() error {
			return target.Client().CreateDB(ctx, target.Name())
		})
		if err != nil && couchbulk.HTTPStatus(err) != http.StatusPreconditionFailed {
			return err
		}
	}
	w, err := target.BulkWriter(c.writerOptions(c.root)...)
	if err != nil {
		return errors.Code(errors.ErrUsage, err)
	}
	opts := []couchbulk.Option{c.opts()}
	if c.pageSize != 0 {
		opts = append(opts, couchbulk.PageSize(c.pageSize))
	}

	g, ctx := errgroup.WithContext(ctx)
	pages := make(chan []couchbulk.Document, 1)
	g.Go(func() error {
		defer close(pages)
		return source.AllDocs(ctx, opts...).Each(func(page []couchbulk.Document) error {
			select {
			case pages <- page:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
	g.Go(func() error {
		return c.write(ctx, w, pages)
	})
	err = g.Wait()
	stats := w.Stats()
	c.log.Infof("Copied %d documents in %d requests, %d errors", stats.Docs, stats.Flushes, stats.Errors)
	return err
}

// write appends every received document to w, and flushes the remainder
// once pages is closed. It is the only goroutine touching w.
func (c *copyDB) write(ctx context.Context, w *couchbulk.BulkWriter, pages <-chan []couchbulk.Document) error {
	for page := range pages {
		for _, doc := range page {
			if !c.keepRevs {
				delete(doc, "_rev")
			}
			if err := w.Append(ctx, doc); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.Flush(ctx)
}
