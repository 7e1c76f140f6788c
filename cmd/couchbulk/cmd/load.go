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
	"time"

	"github.com/spf13/cobra"

	"github.com/go-kivik/couchbulk"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/errors"
	"github.com/go-kivik/couchbulk/cmd/couchbulk/input"
)

// bulkFlags are the batching flags shared by load and copy.
type bulkFlags struct {
	flushSizeMB    float64
	maxArrayLength int
}

func (b *bulkFlags) configFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&b.flushSizeMB, "flush-size-mb", 0, "Flush a batch once it exceeds this size, in MiB. Defaults to 10.")
	f.IntVar(&b.maxArrayLength, "max-array-length", 0, "Flush a batch once it holds this many documents. Defaults to 250.")
}

func (b *bulkFlags) writerOptions(r *root) []couchbulk.Option {
	opts := []couchbulk.Option{
		couchbulk.OnFlush(func(res *couchbulk.BulkResult) {
			r.log.Debugf("Flushed %d documents: status %d, %d errors", res.Docs, res.Status, res.Errors)
			if !res.OK() && res.Errors == 0 {
				r.log.Warnf("Bulk request failed with status %d", res.Status)
			}
		}),
	}
	if b.flushSizeMB != 0 {
		opts = append(opts, couchbulk.FlushSizeMB(b.flushSizeMB))
	}
	if b.maxArrayLength != 0 {
		opts = append(opts, couchbulk.MaxArrayLength(b.maxArrayLength))
	}
	return opts
}

type load struct {
	*root
	bulkFlags
	in        *input.Input
	assignIDs bool
}

func loadCmd(r *root) *cobra.Command {
	c := &load{
		root: r,
	}
	cmd := &cobra.Command{
		Use:   "load [dsn]",
		Short: "Write documents in size-bounded bulk requests",
		Long: `Read documents, as a stream of JSON objects or YAML documents, and write
them to a database with _bulk_docs.

A batch is sent once it is larger than --flush-size-mb, or holds
--max-array-length documents. Documents rejected by the server, such as
conflicts, are reported but do not stop the load.`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.RunE,
	}
	c.in = input.New(nil)
	c.in.ConfigFlags(cmd.Flags())
	c.configFlags(cmd)
	cmd.Flags().BoolVar(&c.assignIDs, "assign-ids", false, "Give documents without an _id a random UUID")

	return cmd
}

func (c *load) RunE(cmd *cobra.Command, args []string) error {
	if !c.in.HasInput() {
		return errors.Code(errors.ErrUsage, "no document data provided")
	}
	c.in.SetStdin(cmd.InOrStdin())
	db, err := c.database(dsnArg(args, 0))
	if err != nil {
		return err
	}
	opts := c.writerOptions(c.root)
	if c.assignIDs {
		opts = append(opts, couchbulk.AssignIDs())
	}
	w, err := db.BulkWriter(opts...)
	if err != nil {
		return errors.Code(errors.ErrUsage, err)
	}
	ctx := cmd.Context()
	start := time.Now()
	err = c.in.Each(func(doc json.RawMessage) error {
		return w.Append(ctx, doc)
	})
	// Documents read before a failure are still written.
	if ferr := w.Flush(ctx); err == nil {
		err = ferr
	}
	stats := w.Stats()
	c.log.Infof("Loaded %d documents in %d requests, %d errors", stats.Docs, stats.Flushes, stats.Errors)
	c.log.Debugf("Load took %s", fmtDuration(time.Since(start)))
	return err
}
