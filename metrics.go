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

package couchbulk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesTotal counts page requests by paginator strategy (cursor, offset,
	// single).
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchbulk_pages_total",
			Help: "Total number of page requests",
		},
		[]string{"strategy"},
	)

	// PageRowsTotal counts raw rows received, by paginator strategy.
	PageRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchbulk_page_rows_total",
			Help: "Total number of rows received in pages",
		},
		[]string{"strategy"},
	)

	// BulkFlushesTotal counts bulk requests by result (ok, partial, failed,
	// error). partial means at least one document was rejected; failed means
	// a non-2xx response returned in fail-silent mode; error means no usable
	// response.
	BulkFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchbulk_bulk_flushes_total",
			Help: "Total number of _bulk_docs requests",
		},
		[]string{"result"},
	)

	// BulkDocumentsTotal counts documents sent in bulk requests.
	BulkDocumentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "couchbulk_bulk_documents_total",
			Help: "Total number of documents sent to _bulk_docs",
		},
	)

	// BulkDocumentErrorsTotal counts per-document errors reported by bulk
	// requests.
	BulkDocumentErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "couchbulk_bulk_document_errors_total",
			Help: "Total number of documents rejected by _bulk_docs",
		},
	)
)

func observePage(strategy string, rows int) {
	PagesTotal.WithLabelValues(strategy).Inc()
	PageRowsTotal.WithLabelValues(strategy).Add(float64(rows))
}

const (
	bulkResultOK      = "ok"
	bulkResultPartial = "partial"
	bulkResultFailed  = "failed"
	bulkResultError   = "error"
)

func observeBulk(result *BulkResult, err error) {
	switch {
	case err != nil:
		BulkFlushesTotal.WithLabelValues(bulkResultError).Inc()
		return
	case result.Status < 200 || result.Status >= 300:
		BulkFlushesTotal.WithLabelValues(bulkResultFailed).Inc()
	case result.Errors > 0:
		BulkFlushesTotal.WithLabelValues(bulkResultPartial).Inc()
	default:
		BulkFlushesTotal.WithLabelValues(bulkResultOK).Inc()
	}
	BulkDocumentsTotal.Add(float64(result.Docs))
	BulkDocumentErrorsTotal.Add(float64(result.Errors))
}
