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
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/output"
	"github.com/go-kivik/couchbulk/internal/checkpoint"
)

type dump struct {
	*root
	ids           bool
	view          string
	includeDocs   bool
	pageSize      int
	checkpoint    string
	checkpointKey string
}

func dumpCmd(r *root) *cobra.Command {
	c := &dump{
		root: r,
	}
	cmd := &cobra.Command{
		Use:   "dump [dsn]",
		Short: "Stream documents, document IDs, or view rows",
		Long: `Stream every document in a database, one record per line.

By default all documents are paged by key, using _all_docs. With --ids only
the document IDs are written. With --view, the rows of a view are paged by
offset instead.

With --checkpoint, the position reached is recorded after every page, in a
YAML file or in Redis (redis://host:port/db). An interrupted dump started
again with the same checkpoint resumes where it stopped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.RunE,
	}

	f := cmd.Flags()
	r.fmt.ConfigFlags(f)
	f.BoolVar(&c.ids, "ids", false, "Write document IDs only")
	f.StringVar(&c.view, "view", "", "Page through the named view, given as ddoc/view")
	f.BoolVar(&c.includeDocs, "include-docs", false, "With --view, write the documents emitting each row")
	f.IntVar(&c.pageSize, "page-size", 0, "Rows per request. Defaults to 500 for IDs and view rows, 750 for documents.")
	f.StringVar(&c.checkpoint, "checkpoint", "", "File or redis:// URL in which to record progress")
	f.StringVar(&c.checkpointKey, "checkpoint-key", "", "Name under which progress is recorded. Defaults to the database name and mode.")

	return cmd
}

func (c *dump) mode() string {
	switch {
	case c.view != "" && c.includeDocs:
		return "view-docs:" + c.view
	case c.view != "":
		return "view:" + c.view
	case c.ids:
		return "ids"
	}
	return "docs"
}

func (c *dump) RunE(cmd *cobra.Command, args []string) error {
	if c.ids && c.view != "" {
		return errors.Code(errors.ErrUsage, "--ids and --view are mutually exclusive")
	}
	if c.includeDocs && c.view == "" {
		return errors.Code(errors.ErrUsage, "--include-docs requires --view")
	}
	db, err := c.database(dsnArg(args, 0))
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	progress := &checkpoint.Checkpoint{}
	var store checkpoint.Store
	key := c.checkpointKey
	if key == "" {
		key = db.Name() + ":" + c.mode()
	}
	if c.checkpoint != "" {
		store, err = checkpoint.Open(c.checkpoint)
		if err != nil {
			return errors.Code(errors.ErrUsage, err)
		}
		defer store.Close() // nolint:errcheck
		cp, err := store.Load(ctx, key)
		if err != nil {
			return errors.Code(errors.ErrIO, err)
		}
		if cp != nil {
			progress = cp
			c.log.Debugf("Resuming %s after %q, %d records already written", key, cp.LastID, cp.Docs)
		}
	}

	enc, err := c.fmt.Open(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.retry(func() error {
		return c.stream(ctx, db, enc, progress, func() error {
			if store == nil {
				return nil
			}
			return errors.Code(errors.ErrIO, store.Save(ctx, key, *progress))
		})
	})
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	c.log.Debugf("Wrote %d records in %s", progress.Docs, fmtDuration(time.Since(start)))
	if store != nil {
		return errors.Code(errors.ErrIO, store.Clear(ctx, key))
	}
	return nil
}

// pageOptions returns the options for a stream starting from progress.
func (c *dump) pageOptions(progress *checkpoint.Checkpoint) ([]couchbulk.Option, error) {
	opts := []couchbulk.Option{c.opts()}
	if c.pageSize != 0 {
		opts = append(opts, couchbulk.PageSize(c.pageSize))
	}
	if progress.Docs == 0 {
		return opts, nil
	}
	if c.view == "" {
		return append(opts, couchbulk.StartAfter(progress.LastID)), nil
	}
	var skip int64
	if s, ok := c.options["skip"].(string); ok {
		var err error
		if skip, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, errors.Codef(errors.ErrUsage, "invalid skip: %s", s)
		}
	}
	return append(opts, couchbulk.Param("skip", skip+progress.Docs)), nil
}

// stream writes every page to enc, advancing progress and calling save
// after each page. It may be called again after a failure to resume.
func (c *dump) stream(ctx context.Context, db *couchbulk.DB, enc output.Encoder, progress *checkpoint.Checkpoint, save func() error) error {
	opts, err := c.pageOptions(progress)
	if err != nil {
		return err
	}
	switch {
	case c.view != "":
		ddoc, view, ok := strings.Cut(c.view, "/")
		if !ok || ddoc == "" || view == "" {
			return errors.Codef(errors.ErrUsage, "--view must be given as ddoc/view: %s", c.view)
		}
		if c.includeDocs {
			return writePages(db.ViewDocs(ctx, ddoc, view, opts...), enc, progress, save, couchbulk.Document.ID)
		}
		return writePages(db.ViewRows(ctx, ddoc, view, opts...), enc, progress, save, func(r couchbulk.Row) string { return r.ID })
	case c.ids:
		return writePages(db.AllIDs(ctx, opts...), enc, progress, save, func(id string) string { return id })
	}
	return writePages(db.AllDocs(ctx, opts...), enc, progress, save, couchbulk.Document.ID)
}

func writePages[T any](pages *couchbulk.Pages[T], enc output.Encoder, progress *checkpoint.Checkpoint, save func() error, id func(T) string) error {
	defer pages.Close() // nolint:errcheck
	for pages.Next() {
		page := pages.Page()
		for _, rec := range page {
			if err := enc.Encode(rec); err != nil {
				return errors.Code(errors.ErrIO, err)
			}
		}
		if len(page) == 0 {
			continue
		}
		progress.LastID = id(page[len(page)-1])
		progress.Docs += int64(len(page))
		if err := save(); err != nil {
			return err
		}
	}
	return pages.Err()
}
