// Package metrics exposes the Prometheus registry used by diseasenet.
// All metrics are defined in their respective packages (ratelimit, client,
// enrich, pipeline) via promauto and registered on the default registerer.
//
// This package provides the scrape handler and the reference list below.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by diseasenet.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry scraped by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - diseasenet_ratelimit_wait_seconds{upstream} (Histogram): Time spent waiting for a request grant
//   - diseasenet_ratelimit_grants_total{upstream} (Counter): Request grants handed out
//   - diseasenet_upstream_throttle_status{upstream} (Gauge): 0=green, 1=yellow, 2=red, 3=black
//   - diseasenet_ratelimit_throttles_total{upstream, status} (Counter): Requests delayed by upstream throttling
//
// Fetch Metrics (pkg/client):
//   - diseasenet_fetch_requests_total{upstream, status} (Counter): Requests by upstream and HTTP status
//   - diseasenet_fetch_request_duration_seconds{upstream} (Histogram): Request duration
//   - diseasenet_fetch_errors_total{upstream, class} (Counter): Errors by class (client, server, rate_limit, network)
//   - diseasenet_fetch_retries_total{upstream, error_class} (Counter): Retry attempts
//   - diseasenet_fetch_retry_backoff_seconds{upstream, error_class} (Histogram): Backoff duration
//   - diseasenet_fetch_retry_exhausted_total{upstream, error_class} (Counter): Requests that exhausted max attempts
//
// Enrichment Metrics (pkg/enrich):
//   - diseasenet_enrich_tasks_total{status} (Counter): Gene tasks by outcome (complete, partial, failed)
//   - diseasenet_enrich_task_duration_seconds (Histogram): Per-gene enrichment duration
//   - diseasenet_enrich_workers_busy (Gauge): Workers currently enriching a gene
//
// Run Metrics (pkg/pipeline):
//   - diseasenet_runs_total{result} (Counter): Finished searches by result
//   - diseasenet_run_duration_seconds (Histogram): Search duration
//   - diseasenet_runs_active (Gauge): Searches in flight
//   - diseasenet_run_genes (Histogram): Genes collected per search
//
// Example Prometheus Queries:
//
//   # Degraded gene share
//   sum(rate(diseasenet_enrich_tasks_total{status!="complete"}[5m])) /
//   sum(rate(diseasenet_enrich_tasks_total[5m]))
//
//   # Upstream error rate
//   sum by (upstream) (rate(diseasenet_fetch_errors_total[5m]))
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(diseasenet_fetch_request_duration_seconds_bucket[5m]))
