package repository

import (
	"context"

	appErr "codelab/pkg/errors"
)

// ResultStore keeps run records keyed by run id until they expire.
type ResultStore interface {
	Save(ctx context.Context, record RunRecord) error
	// Get returns an error with code RunNotFound for unknown or expired ids.
	Get(ctx context.Context, runID string) (RunRecord, error)
}

func validateRecord(record RunRecord) error {
	if record.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if record.Status == RunFinished && record.Result == nil {
		return appErr.ValidationError("result", "required for finished runs")
	}
	return nil
}

func runNotFound(runID string) error {
	return appErr.Newf(appErr.RunNotFound, "run %s not found", runID)
}
