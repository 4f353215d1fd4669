package extract

import "time"

// Phase labels the disposition of a checkpoint within an extraction run.
type Phase string

const (
	// PhaseInProgress marks a periodic checkpoint of a healthy run. Its
	// cursor is the next unfetched page, so resuming never replays a
	// fully consumed page.
	PhaseInProgress Phase = "in_progress"

	// PhaseCompleted marks natural termination: the cursor sequence was
	// exhausted or an empty page was returned.
	PhaseCompleted Phase = "completed"

	// PhaseCancelled marks termination by the cancel predicate.
	PhaseCancelled Phase = "cancelled"

	// PhasePaused marks a page-boundary pause.
	PhasePaused Phase = "paused"

	// PhasePausedMidPage marks a pause observed between record yields;
	// Extra carries how many records of the current page were already
	// delivered.
	PhasePausedMidPage Phase = "paused_mid_page"

	// PhaseError marks a terminal fetch failure. The cursor is the
	// recovery point for a manual restart.
	PhaseError Phase = "error"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p != PhaseInProgress
}

// Checkpoint is a snapshot of extraction progress. It is created whole
// and overwritten whole, never partially mutated, and persisted through
// the checkpoint callback; the engine never reads it back.
type Checkpoint struct {
	Phase            Phase          `json:"phase"`
	RecordsProcessed int            `json:"records_processed"`
	Cursor           string         `json:"cursor,omitempty"`
	PageNumber       int            `json:"page_number"`
	BatchSize        int            `json:"batch_size"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// ResumePoint is the subset of a checkpoint the engine accepts as input
// when restarting a run. Loading it from storage is the orchestration
// layer's job.
type ResumePoint struct {
	Cursor           string `json:"cursor"`
	PageNumber       int    `json:"page_number"`
	RecordsProcessed int    `json:"records_processed"`
}

// newCheckpoint assembles a checkpoint with the standard envelope fields.
func newCheckpoint(phase Phase, records int, cursor string, pageNumber, batchSize int, extra map[string]any) Checkpoint {
	if extra == nil {
		extra = map[string]any{}
	}
	extra["service"] = "hubspot_deals"
	extra["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return Checkpoint{
		Phase:            phase,
		RecordsProcessed: records,
		Cursor:           cursor,
		PageNumber:       pageNumber,
		BatchSize:        batchSize,
		Extra:            extra,
	}
}
