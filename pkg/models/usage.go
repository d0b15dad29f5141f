package models

import "time"

// UsageDetail is one hour of usage as reported by the provider. The atomic
// unit the reconciler consumes.
type UsageDetail struct {
	Timestamp time.Time `json:"timestamp"`
	Usage     float64   `json:"usage"`
}

// Checkpoint is the last durably recorded (timestamp, cumulative-sum) pair
// for a usage stream. Input to reconciliation, never mutated by the engine.
type Checkpoint struct {
	Start time.Time `json:"start"`
	Sum   float64   `json:"sum"`
}

// ReconciledPoint is one hour of reconciled output: the incremental usage for
// that hour and the running cumulative sum including it. Append-only once
// emitted; the store overwrites by timestamp on re-ingestion.
type ReconciledPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}
