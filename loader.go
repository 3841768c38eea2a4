package pipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTable is the destination table of user events.
const DefaultTable = "raw_user_events"

// UserEventsSchema is the schema of the user events table.
var UserEventsSchema = bigquery.Schema{
	{Name: "event_time", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "user_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "transaction_category", Type: bigquery.StringFieldType},
	{Name: "miles_amount", Type: bigquery.FloatFieldType},
	{Name: "platform", Type: bigquery.StringFieldType, Required: true},
	{Name: "utm_source", Type: bigquery.StringFieldType},
	{Name: "country", Type: bigquery.StringFieldType},
}

// SchemaColumns returns the column names of s in order.
func SchemaColumns(s bigquery.Schema) []string {
	cols := make([]string, len(s))
	for i, f := range s {
		cols[i] = f.Name
	}
	return cols
}

// Loader replaces a table's contents with a staged CSV object.
type Loader struct {
	Project string
	Dataset string
	Table   string
	Schema  bigquery.Schema

	// Location is reported in remediation hints.
	Location string

	// Timeout bounds the load job wait. Zero means no bound.
	Timeout time.Duration

	wh warehouse
}

// LoadResult is the outcome of a successful load.
type LoadResult struct {
	Table string `json:"table"`
	Rows  uint64 `json:"rows"`
}

// TableID returns the fully-qualified table identifier.
func (ld *Loader) TableID() string {
	return fmt.Sprintf("%s.%s.%s", ld.Project, ld.Dataset, ld.Table)
}

// Load truncates the table and writes the rows of the object at uri,
// skipping its header row. It returns after the load job finished.
func (ld *Loader) Load(ctx context.Context, uri string) (*LoadResult, error) {
	l := log.Ctx(ctx).With().Str("table", ld.TableID()).Logger()

	if ld.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ld.Timeout)
		defer cancel()
	}

	spec := loadSpec{
		SourceURI:           uri,
		Table:               ld.Table,
		Schema:              ld.Schema,
		SkipLeadingRows:     1,
		WriteDisposition:    bigquery.WriteTruncate,
		AllowQuotedNewlines: true,
	}

	l.Info().Str("uri", uri).Msg("loading")

	if err := ld.wh.load(ctx, ld.Dataset, spec); err != nil {
		return nil, ld.loadError(l, err)
	}

	rows, err := ld.wh.tableRows(ctx, ld.Dataset, ld.Table)
	if err != nil {
		return nil, ld.loadError(l, err)
	}

	l.Info().Uint64("rows", rows).Msg("loaded")

	return &LoadResult{Table: ld.TableID(), Rows: rows}, nil
}

func (ld *Loader) loadError(l zerolog.Logger, err error) error {
	le := &LoadError{Table: ld.TableID(), Err: err}

	l.Error().Err(err).Msg("bigquery load failed")

	if isMissingDataset(err) {
		le.DatasetMissing = true
		le.Remediation = fmt.Sprintf(
			"create dataset %q in project %q with location %q, then re-run",
			ld.Dataset, ld.Project, ld.Location)
		l.Error().Str("remediation", le.Remediation).Msgf("dataset %s.%s does not exist", ld.Project, ld.Dataset)
	}

	return le
}
