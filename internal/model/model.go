// Package model defines the shared types of the speech analysis pipeline.
package model

import (
	"fmt"
	"time"
)

// Phase identifies one of the two pipeline phases.
type Phase string

const (
	// PhaseFilter is the relevance-screening phase.
	PhaseFilter Phase = "filter"
	// PhaseScore is the stance-scoring phase.
	PhaseScore Phase = "score"
)

// ItemStatus is the tracked state of a work item.
type ItemStatus string

const (
	StatusPending        ItemStatus = "pending"
	StatusFilterComplete ItemStatus = "filter_complete"
	StatusScoreComplete  ItemStatus = "score_complete"
)

// WorkItem is one (member, topic) pair tracked through the pipeline.
type WorkItem struct {
	MemberID int    `json:"member_id"`
	Topic    string `json:"topic"`
}

// Key returns the stable ledger key for the work item.
func (w WorkItem) Key() string {
	return fmt.Sprintf("%d_%s", w.MemberID, w.Topic)
}

func (w WorkItem) String() string {
	return w.Key()
}

// ItemState is the persisted per-item record.
type ItemState struct {
	Status            ItemStatus `json:"status"`
	FilterBatchJobIDs []string   `json:"filter_batch_job_ids,omitempty"`
	FilterCompletedAt *time.Time `json:"filter_completed_at,omitempty"`
	ScoreBatchJobIDs  []string   `json:"score_batch_job_ids,omitempty"`
	ScoreCompletedAt  *time.Time `json:"score_completed_at,omitempty"`
}

// Statistics counts tracked items per state.
type Statistics struct {
	Pending        int `json:"pending"`
	FilterComplete int `json:"filter_complete"`
	ScoreComplete  int `json:"score_complete"`
	Total          int `json:"total"`
}

// BatchStatus is the tracked state of a submitted batch job. Progression is
// strictly forward: submitted, then exactly one terminal status.
type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchExpired   BatchStatus = "expired"
	BatchCancelled BatchStatus = "cancelled"
	// BatchError marks a job whose status polling failed; the job is
	// abandoned locally without knowing its remote outcome.
	BatchError BatchStatus = "error"
)

// Terminal reports whether the status ends a job's lifecycle.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled, BatchError:
		return true
	}
	return false
}

// RequestCounts tallies the live per-request progress of a batch job.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
