package jamfreport

import (
	"context"
	"time"
)

// RunSummary describes one report build. It carries counts only; device
// data is never handed to a recorder.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Elapsed   time.Duration
	BaseURL   string
	Listed    int
	Reported  int
	Skipped   int
	Error     string
}

// RunRecorder receives one summary per BuildReport call.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunSummary) error
}

type noopRecorder struct{}

func (noopRecorder) RecordRun(context.Context, RunSummary) error { return nil }
