package repository

import "codelab/internal/judge/sandbox/result"

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunFinished RunStatus = "finished"
)

// RunOrigin tells where a stored result came from.
type RunOrigin string

const (
	OriginEngine  RunOrigin = "engine"
	OriginWebhook RunOrigin = "webhook"
)

// RunRecord is what the store keeps per run id.
type RunRecord struct {
	RunID       string            `json:"run_id"`
	Status      RunStatus         `json:"status"`
	Origin      RunOrigin         `json:"origin"`
	Result      *result.RunResult `json:"result,omitempty"`
	SubmittedAt int64             `json:"submitted_at"`
}

// Finished reports whether the record carries a final result.
func (r RunRecord) Finished() bool {
	return r.Status == RunFinished && r.Result != nil
}

// RunEvent is published once per finished run.
type RunEvent struct {
	Type      string    `json:"type"`
	Record    RunRecord `json:"record"`
	CreatedAt int64     `json:"created_at"`
}

const RunEventFinished = "run.finished"
