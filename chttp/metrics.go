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

package chttp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts completed requests by method and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchbulk_http_requests_total",
			Help: "Total number of HTTP requests sent to CouchDB",
		},
		[]string{"method", "code"},
	)

	// RequestDuration tracks time to response headers by method.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "couchbulk_http_request_duration_seconds",
			Help:    "Time until CouchDB response headers were received",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func instrument(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(RequestsTotal,
		promhttp.InstrumentRoundTripperDuration(RequestDuration, next),
	)
}
