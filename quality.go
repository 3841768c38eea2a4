package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// CategoryCount is one bucket of a distribution.
type CategoryCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// DateRange is the span of event times. Both ends are nil for an empty table.
type DateRange struct {
	Min *time.Time `json:"min"`
	Max *time.Time `json:"max"`
}

// QualityReport holds the aggregates computed after a load.
type QualityReport struct {
	TotalEvents int64           `json:"total_events"`
	UniqueUsers int64           `json:"unique_users"`
	DateRange   DateRange       `json:"date_range"`
	EventTypes  []CategoryCount `json:"event_types"`
	Platforms   []CategoryCount `json:"platforms"`
}

// QualityChecker runs read-only aggregate queries against a loaded table.
type QualityChecker struct {
	// Table is the fully-qualified table identifier.
	Table string

	wh warehouse
}

type qualityCheck struct {
	name  string
	sql   string
	apply func(*QualityReport, []map[string]bigquery.Value) error
}

func (q *QualityChecker) checks() []qualityCheck {
	t := fmt.Sprintf("`%s`", q.Table)

	return []qualityCheck{
		{
			name: "total_events",
			sql:  "SELECT COUNT(*) AS total_events FROM " + t,
			apply: func(r *QualityReport, rows []map[string]bigquery.Value) (err error) {
				r.TotalEvents, err = singleInt(rows, "total_events")
				return err
			},
		},
		{
			name: "unique_users",
			sql:  "SELECT COUNT(DISTINCT user_id) AS unique_users FROM " + t,
			apply: func(r *QualityReport, rows []map[string]bigquery.Value) (err error) {
				r.UniqueUsers, err = singleInt(rows, "unique_users")
				return err
			},
		},
		{
			name: "date_range",
			sql:  "SELECT MIN(event_time) AS min_time, MAX(event_time) AS max_time FROM " + t,
			apply: func(r *QualityReport, rows []map[string]bigquery.Value) error {
				if len(rows) == 0 {
					return nil
				}

				lo, err := asTime(rows[0]["min_time"])
				if err != nil {
					return err
				}
				hi, err := asTime(rows[0]["max_time"])
				if err != nil {
					return err
				}

				r.DateRange = DateRange{Min: lo, Max: hi}
				return nil
			},
		},
		{
			name: "event_types",
			sql: "SELECT event_type, COUNT(*) AS count FROM " + t +
				" GROUP BY event_type ORDER BY count DESC, event_type ASC",
			apply: func(r *QualityReport, rows []map[string]bigquery.Value) (err error) {
				r.EventTypes, err = distribution(rows, "event_type", "count")
				return err
			},
		},
		{
			name: "platforms",
			sql: "SELECT platform, COUNT(DISTINCT user_id) AS users FROM " + t +
				" GROUP BY platform ORDER BY users DESC, platform ASC",
			apply: func(r *QualityReport, rows []map[string]bigquery.Value) (err error) {
				r.Platforms, err = distribution(rows, "platform", "users")
				return err
			},
		},
	}
}

// Check runs the aggregates in order and stops at the first failure.
// An empty table yields a zero report, not an error.
func (q *QualityChecker) Check(ctx context.Context) (*QualityReport, error) {
	l := log.Ctx(ctx).With().Str("table", q.Table).Logger()

	report := &QualityReport{
		EventTypes: []CategoryCount{},
		Platforms:  []CategoryCount{},
	}

	for _, c := range q.checks() {
		l.Debug().Str("check", c.name).Str("sql", c.sql).Msg("running quality check")

		rows, err := q.wh.query(ctx, c.sql)
		if err != nil {
			return nil, &QueryError{Check: c.name, Err: err}
		}

		if err := c.apply(report, rows); err != nil {
			return nil, &QueryError{Check: c.name, Err: err}
		}
	}

	if report.TotalEvents == 0 {
		l.Warn().Msg("table is empty")
	}

	l.Info().
		Int64("total_events", report.TotalEvents).
		Int64("unique_users", report.UniqueUsers).
		Int("event_types", len(report.EventTypes)).
		Int("platforms", len(report.Platforms)).
		Msg("quality checks completed")

	return report, nil
}

func singleInt(rows []map[string]bigquery.Value, col string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt(rows[0][col])
}

// distribution orders buckets by count descending, then value ascending.
func distribution(rows []map[string]bigquery.Value, keyCol, countCol string) ([]CategoryCount, error) {
	counts := make([]CategoryCount, 0, len(rows))

	for _, row := range rows {
		n, err := asInt(row[countCol])
		if err != nil {
			return nil, err
		}

		counts = append(counts, CategoryCount{Value: asString(row[keyCol]), Count: n})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})

	return counts, nil
}

func asInt(v bigquery.Value) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, xerrors.Errorf("unexpected count value %v (%T)", v, v)
	}
}

func asString(v bigquery.Value) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asTime(v bigquery.Value) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	default:
		return nil, xerrors.Errorf("unexpected timestamp value %v (%T)", v, v)
	}
}
