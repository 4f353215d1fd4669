// Package extract implements the checkpointed extraction engine: a lazy,
// single-pass record sequence driven across cursor-based pages with
// cancel/pause polling and resumable progress checkpoints.
package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/hubspot"
	"github.com/crmsync/hubspot-extractor/pkg/transform"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for extraction runs.
var (
	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_extract_records_total",
		Help: "Total records yielded across all extraction runs",
	})

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_extract_pages_total",
		Help: "Total pages consumed across all extraction runs",
	})

	checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_extract_checkpoints_total",
		Help: "Total checkpoints persisted by phase",
	}, []string{"phase"})

	checkpointFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_extract_checkpoint_failures_total",
		Help: "Total checkpoint writes that failed (non-fatal to the run)",
	})
)

// ErrAlreadyStarted is yielded when a sequence object is iterated twice.
// A run is single-pass; restart with a ResumePoint instead.
var ErrAlreadyStarted = errors.New("extraction sequence already consumed")

// PageLister fetches one page of raw deals. *hubspot.Service implements
// it; tests substitute fakes.
type PageLister interface {
	ListDeals(ctx context.Context, opts hubspot.ListOptions) (*hubspot.Page, error)
}

// Filters are the caller-supplied extraction parameters. The engine
// treats property and association names as opaque.
type Filters struct {
	Properties          []string
	AssociationTypes    []string
	IncludeAssociations bool
	IncludeArchived     bool

	// BatchSize per page, clamped to the API maximum of 100.
	BatchSize int

	// CheckpointInterval is the number of pages between in_progress
	// checkpoints (default 5, minimum 1).
	CheckpointInterval int

	// MaxPages bounds the run (default 10000).
	MaxPages int

	// ExtraParams are passed through to the list endpoint untouched.
	ExtraParams url.Values
}

// Callbacks are the orchestration-layer hooks polled and invoked by the
// engine. Any of them may be nil.
type Callbacks struct {
	// Checkpoint persists progress. Failures are logged and counted,
	// never propagated: a lost checkpoint degrades resumability, not
	// forward progress.
	Checkpoint func(runID string, cp Checkpoint) error

	// CheckCancel is polled once per page. True terminates the run with
	// a cancelled checkpoint.
	CheckCancel func(runID string) bool

	// CheckPause is polled per page and again between record yields.
	// True terminates the run with a paused checkpoint; the caller
	// restarts later from the persisted cursor.
	CheckPause func(runID string) bool
}

// Config describes one extraction run.
type Config struct {
	// RunID identifies the run (scan id) in checkpoints and callbacks.
	RunID string

	// OrganizationID is stamped into record metadata.
	OrganizationID string

	Filters   Filters
	Callbacks Callbacks

	// Resume restarts from a prior checkpoint. The engine uses the
	// cursor verbatim and never deduplicates records delivered before
	// the checkpoint was written.
	Resume *ResumePoint
}

// Defaults matching the HubSpot service limits.
const (
	DefaultCheckpointInterval = 5
	DefaultMaxPages           = 10000
)

// Extractor drives one checkpointed extraction run. A single run is
// strictly sequential: each page's cursor depends on the prior response,
// so pages are never fetched in parallel.
type Extractor struct {
	lister  PageLister
	cfg     Config
	logger  zerolog.Logger
	started atomic.Bool

	// now is an injection point for tests.
	now func() time.Time
}

// New creates an extractor for one run. Filter defaults are applied here
// so the loop can rely on them.
func New(lister PageLister, cfg Config) *Extractor {
	if cfg.Filters.BatchSize <= 0 || cfg.Filters.BatchSize > hubspot.MaxPageSize {
		cfg.Filters.BatchSize = hubspot.MaxPageSize
	}
	if cfg.Filters.CheckpointInterval < 1 {
		cfg.Filters.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.Filters.MaxPages <= 0 {
		cfg.Filters.MaxPages = DefaultMaxPages
	}

	logger := log.With().
		Str("component", "extractor").
		Str("run_id", cfg.RunID).
		Logger()

	return &Extractor{
		lister: lister,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Records returns the lazy record sequence for this run. Iteration pulls
// one record at a time; pause and cancel signals are observable between
// individual yields. A terminal fetch failure is delivered as the final
// (zero record, error) element. The sequence is single-pass.
func (e *Extractor) Records(ctx context.Context) iter.Seq2[transform.NormalizedDeal, error] {
	return func(yield func(transform.NormalizedDeal, error) bool) {
		if !e.started.CompareAndSwap(false, true) {
			yield(transform.NormalizedDeal{}, ErrAlreadyStarted)
			return
		}
		e.run(ctx, yield)
	}
}

// run is the per-page control loop.
func (e *Extractor) run(ctx context.Context, yield func(transform.NormalizedDeal, error) bool) {
	filters := e.cfg.Filters

	var after string
	pageCount := 0
	totalRecords := 0

	if resume := e.cfg.Resume; resume != nil {
		after = resume.Cursor
		pageCount = resume.PageNumber
		totalRecords = resume.RecordsProcessed
		e.logger.Info().
			Int("page_number", pageCount+1).
			Int("total_processed", totalRecords).
			Str("resume_cursor", truncateCursor(after)).
			Msg("Resuming deals extraction")
	} else {
		e.logger.Info().Msg("Starting fresh deals extraction")
	}

	associations := filters.AssociationTypes
	if !filters.IncludeAssociations {
		associations = nil
	}

	for pageCount < filters.MaxPages {
		// Cancel check, once per page. Terminal, not retriable.
		if e.checkCancel() {
			e.logger.Info().
				Int("page_number", pageCount+1).
				Int("total_processed", totalRecords).
				Msg("Extraction cancelled by caller")

			e.saveCheckpoint(PhaseCancelled, totalRecords, after, pageCount, map[string]any{
				"cancellation_reason": "caller_requested",
				"cancelled_at_page":   pageCount,
			})
			return
		}

		// Pause check at page granularity.
		if e.checkPause() {
			e.logger.Info().
				Int("page_number", pageCount+1).
				Int("total_processed", totalRecords).
				Msg("Extraction paused by caller")

			e.saveCheckpoint(PhasePaused, totalRecords, after, pageCount, map[string]any{
				"pause_reason":   "caller_requested",
				"paused_at_page": pageCount,
			})
			return
		}

		page, err := e.lister.ListDeals(ctx, hubspot.ListOptions{
			After:        after,
			Limit:        filters.BatchSize,
			Properties:   filters.Properties,
			Associations: associations,
			Archived:     filters.IncludeArchived,
			ExtraParams:  filters.ExtraParams,
		})
		if err != nil {
			e.logger.Error().
				Err(err).
				Int("page_number", pageCount+1).
				Msg("Page fetch failed, persisting recovery checkpoint")

			// The engine does not retry whole pages: executor-level
			// retries are already spent. Persist the recovery cursor
			// and surface the failure.
			e.saveCheckpoint(PhaseError, totalRecords, after, pageCount, map[string]any{
				"error":           err.Error(),
				"error_page":      pageCount + 1,
				"recovery_cursor": after,
			})

			yield(transform.NormalizedDeal{}, fmt.Errorf("fetch page %d: %w", pageCount+1, err))
			return
		}

		// An empty page signals natural end-of-data.
		if len(page.Deals) == 0 {
			e.logger.Info().
				Int("page_number", pageCount+1).
				Int("total_records", totalRecords).
				Msg("No more deals to process")

			e.saveCheckpoint(PhaseCompleted, totalRecords, "", pageCount, map[string]any{
				"completion_status": "success",
				"total_pages":       pageCount,
				"final_total":       totalRecords,
			})
			return
		}

		pageRecords := 0
		for _, deal := range page.Deals {
			// Finer-grained pause check bounds how many records can be
			// replayed after a mid-page pause.
			if e.checkPause() {
				e.logger.Info().
					Int("page_number", pageCount+1).
					Int("records_in_page", pageRecords).
					Int("total_processed", totalRecords+pageRecords).
					Msg("Extraction paused mid-page")

				e.saveCheckpoint(PhasePausedMidPage, totalRecords+pageRecords, after, pageCount, map[string]any{
					"pause_reason":              "caller_requested_mid_page",
					"records_completed_in_page": pageRecords,
				})
				return
			}

			record := transform.Deal(deal, e.cfg.RunID, e.cfg.OrganizationID, pageCount+1, e.now())
			if !yield(record, nil) {
				// Consumer abandoned the sequence; nothing to persist.
				return
			}
			pageRecords++
			recordsTotal.Inc()
		}

		totalRecords += pageRecords
		pageCount++
		pagesTotal.Inc()

		e.logger.Info().
			Int("page_number", pageCount).
			Int("page_records", pageRecords).
			Int("total_records", totalRecords).
			Msg("Processed deals page")

		// Periodic checkpoints carry the next cursor so a resume never
		// re-fetches a fully consumed page.
		if pageCount%filters.CheckpointInterval == 0 {
			e.saveCheckpoint(PhaseInProgress, totalRecords, page.NextCursor, pageCount, map[string]any{
				"pages_processed":   pageCount,
				"last_page_records": pageRecords,
			})
		}

		if page.NextCursor == "" {
			e.saveCheckpoint(PhaseCompleted, totalRecords, "", pageCount, map[string]any{
				"completion_status": "success",
				"total_pages":       pageCount,
				"final_total":       totalRecords,
			})

			e.logger.Info().
				Int("total_records", totalRecords).
				Int("total_pages", pageCount).
				Msg("Deals extraction completed")
			return
		}
		after = page.NextCursor
	}

	// Page budget exhausted before the cursor sequence ended. Persist a
	// resumable checkpoint so the caller can continue in a new run.
	e.logger.Warn().
		Int("max_pages", filters.MaxPages).
		Int("total_records", totalRecords).
		Msg("Max pages reached before end of data")

	e.saveCheckpoint(PhaseInProgress, totalRecords, after, pageCount, map[string]any{
		"max_pages_reached": true,
	})
}

// checkCancel polls the cancel predicate.
func (e *Extractor) checkCancel() bool {
	return e.cfg.Callbacks.CheckCancel != nil && e.cfg.Callbacks.CheckCancel(e.cfg.RunID)
}

// checkPause polls the pause predicate.
func (e *Extractor) checkPause() bool {
	return e.cfg.Callbacks.CheckPause != nil && e.cfg.Callbacks.CheckPause(e.cfg.RunID)
}

// saveCheckpoint persists progress through the callback. Write failures
// are logged and counted but never stop the run.
func (e *Extractor) saveCheckpoint(phase Phase, records int, cursor string, pageNumber int, extra map[string]any) {
	if e.cfg.Callbacks.Checkpoint == nil {
		return
	}

	cp := newCheckpoint(phase, records, cursor, pageNumber, e.cfg.Filters.BatchSize, extra)

	if err := e.cfg.Callbacks.Checkpoint(e.cfg.RunID, cp); err != nil {
		checkpointFailuresTotal.Inc()
		e.logger.Warn().
			Err(err).
			Str("phase", string(phase)).
			Int("page_number", pageNumber).
			Msg("Failed to save checkpoint")
		return
	}

	checkpointsTotal.WithLabelValues(string(phase)).Inc()
	e.logger.Debug().
		Str("phase", string(phase)).
		Int("page_number", pageNumber).
		Int("records_processed", records).
		Msg("Checkpoint saved")
}

// truncateCursor shortens long opaque cursors for log lines.
func truncateCursor(cursor string) string {
	if len(cursor) > 50 {
		return cursor[:50] + "..."
	}
	return cursor
}
