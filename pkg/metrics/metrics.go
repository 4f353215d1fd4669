// Package metrics provides the centralized Prometheus metrics registry
// for the HubSpot extractor. All metrics are defined in their respective
// packages (ratelimit, client, extract, checkpoint) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the extractor.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - hubspot_rate_limit_acquires_total (Counter): Request slots granted by the sliding window
//   - hubspot_rate_limit_wait_seconds (Histogram): Time spent waiting for a free slot
//
// Request Metrics (pkg/client):
//   - hubspot_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - hubspot_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - hubspot_errors_total{class} (Counter): Errors by class (throttle, server, client, network)
//
// Retry Metrics (pkg/client):
//   - hubspot_retries_total{error_class} (Counter): Retry attempts by error class
//   - hubspot_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - hubspot_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Extraction Metrics (pkg/extract):
//   - hubspot_extract_records_total (Counter): Records yielded across all runs
//   - hubspot_extract_pages_total (Counter): Pages consumed across all runs
//   - hubspot_extract_checkpoints_total{phase} (Counter): Checkpoints persisted by phase
//   - hubspot_extract_checkpoint_failures_total (Counter): Checkpoint writes that failed
//
// Checkpoint Storage Metrics (pkg/checkpoint):
//   - hubspot_checkpoint_saves_total{phase} (Counter): Checkpoints written to Redis
//   - hubspot_checkpoint_store_errors_total{operation} (Counter): Storage operation errors
//
// Example Prometheus Queries:
//
//   # Throttle Rate
//   rate(hubspot_errors_total{class="throttle"}[5m]) / rate(hubspot_requests_total[5m])
//
//   # Extraction Throughput
//   rate(hubspot_extract_records_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(hubspot_request_duration_seconds_bucket[5m]))
//
//   # Checkpoint Write Failure Rate
//   rate(hubspot_extract_checkpoint_failures_total[5m])
