package pipeline

import (
	"context"
	"time"
)

type contextKey string

const (
	startedTimeKey contextKey = "startedTime"
	runIDKey       contextKey = "runID"
	logicalDateKey contextKey = "logicalDate"
)

func withStartedTime(ctx context.Context) context.Context {
	return context.WithValue(ctx, startedTimeKey, time.Now())
}

func startedTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startedTimeKey).(time.Time)
	return t, ok
}

func withRun(ctx context.Context, runID string, logicalDate time.Time) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, logicalDateKey, logicalDate)
}

// RunIDFrom returns the id of the run ctx belongs to.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok
}

// LogicalDateFrom returns the logical date of the run ctx belongs to.
func LogicalDateFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(logicalDateKey).(time.Time)
	return t, ok
}
