package pipeline

import (
	"time"

	"github.com/rs/zerolog"
)

const logicalDateLayout = "2006-01-02"

// Status is the terminal state of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage names used in reports, logs and metrics.
const (
	StageDiscover  = "discover"
	StageValidate  = "validate"
	StageStage     = "stage"
	StageProvision = "provision"
	StageLoad      = "load"
	StageQuality   = "quality"
	StageTransform = "transform"
)

// DatasetResult is the outcome of provisioning.
type DatasetResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// Report is the metadata of one pipeline run.
type Report struct {
	RunID       string    `json:"run_id"`
	LogicalDate string    `json:"logical_date"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      Status    `json:"status"`

	Source  *ValidatedSource `json:"source,omitempty"`
	Staged  *StagedObject    `json:"staged,omitempty"`
	Dataset *DatasetResult   `json:"dataset,omitempty"`
	Load    *LoadResult      `json:"load,omitempty"`
	Quality *QualityReport   `json:"quality,omitempty"`
	Models  []string         `json:"models"`

	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newReport(runID string, logicalDate time.Time) *Report {
	return &Report{
		RunID:       runID,
		LogicalDate: logicalDate.Format(logicalDateLayout),
		StartedAt:   time.Now(),
		Models:      []string{},
	}
}

func (r *Report) fail(stage string, err error) {
	r.Status = StatusFailed
	r.FailedStage = stage
	r.Error = err.Error()
	r.FinishedAt = time.Now()
}

func (r *Report) succeed() {
	r.Status = StatusSucceeded
	r.FinishedAt = time.Now()
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (r *Report) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", r.RunID).
		Str("logical_date", r.LogicalDate).
		Str("status", string(r.Status)).
		Dur("duration", r.Duration())

	if r.Source != nil {
		e.Str("source_path", r.Source.Path).
			Int("source_rows", r.Source.Rows).
			Strs("source_columns", r.Source.Columns)
	}
	if r.Staged != nil {
		e.Str("gcs_uri", r.Staged.URI)
	}
	if r.Dataset != nil {
		e.Str("dataset_id", r.Dataset.ID).Bool("dataset_created", r.Dataset.Created)
	}
	if r.Load != nil {
		e.Str("table_id", r.Load.Table).Uint64("num_rows", r.Load.Rows)
	}
	if r.Quality != nil {
		e.Int64("total_events", r.Quality.TotalEvents).
			Int64("unique_users", r.Quality.UniqueUsers).
			Interface("event_types", r.Quality.EventTypes)
	}
	if len(r.Models) > 0 {
		e.Strs("models", r.Models)
	}
	if r.Status == StatusFailed {
		e.Str("failed_stage", r.FailedStage).Str("error", r.Error)
	}
}
