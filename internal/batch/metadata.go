package batch

import (
	"time"

	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

// Metadata describes the logical unit a batch job was submitted for. It is
// typed end to end; formatting only happens at the ledger boundary via the
// JSON tags.
type Metadata struct {
	Phase        model.Phase `json:"phase"`
	MemberID     int         `json:"member_id"`
	Topics       []string    `json:"topics,omitempty"`
	Topic        string      `json:"topic,omitempty"`
	ChunkIndex   int         `json:"chunk_index"`
	RetryAttempt int         `json:"retry_attempt,omitempty"`
	RunID        string      `json:"run_id,omitempty"`
}

// Job is one entry in the batch ledger. Created at submission, updated in
// place while polled, never deleted.
type Job struct {
	ID           string              `json:"id"`
	Metadata     Metadata            `json:"metadata"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	Status       model.BatchStatus   `json:"status"`
	RequestCount int                 `json:"request_count"`
	Counts       model.RequestCounts `json:"counts"`
	ResultsURL   string              `json:"file_id,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}

// CostEntry is one entry in the usage ledger, written when a job completes
// and enriched with token usage once results are fetched.
type CostEntry struct {
	Timestamp     time.Time             `json:"timestamp"`
	Requests      model.RequestCounts   `json:"requests"`
	Metadata      Metadata              `json:"metadata"`
	Usage         *anthropic.TokenUsage `json:"usage,omitempty"`
	EstimatedCost float64               `json:"estimated_cost,omitempty"`
}

// DeadLetter records a request abandoned after exhausting its retry budget.
type DeadLetter struct {
	Request   anthropic.BatchRequestItem `json:"request"`
	Metadata  Metadata                   `json:"metadata"`
	Timestamp time.Time                  `json:"timestamp"`
}
