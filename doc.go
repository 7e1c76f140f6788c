// Package couchbulk provides a client for CouchDB or CouchDB-like databases,
// specialized for moving large numbers of documents.
//
// Reads are paged. [DB.AllDocs] and [DB.AllIDs] walk _all_docs by key,
// starting each page just past the last document ID of the previous one, so
// that every request costs the same however deep the scan. [DB.ViewRows]
// and [DB.ViewDocs] page views with skip and limit.
//
// Writes are batched. A [BulkWriter] accumulates documents, and sends them
// to _bulk_docs once the batch exceeds a size in bytes, or holds a maximum
// number of documents. Documents rejected by the server are counted, not
// returned as errors.
//
// Every request carries HTTP Basic credentials, if configured, and is
// bounded by a connection timeout and a read timeout. Timeouts are reported
// as [chttp.TimeoutError], and may be detected with [IsTimeout].
package couchbulk // import "github.com/go-kivik/couchbulk"
