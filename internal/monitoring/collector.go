// Package monitoring assembles point-in-time health snapshots from the
// pipeline's ledgers and evaluates them against alert thresholds.
package monitoring

import (
	"time"

	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/model"
)

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	// Work-item progress.
	Items model.Statistics `json:"items"`

	// Batch jobs by tracked status.
	BatchesByStatus map[string]int `json:"batches_by_status"`
	BatchesTotal    int            `json:"batches_total"`
	BatchFailRate   float64        `json:"batch_fail_rate"`

	// Dead-letter depth and accumulated spend.
	DeadLetterDepth int     `json:"dead_letter_depth"`
	TotalCostUSD    float64 `json:"total_cost_usd"`

	CollectedAt time.Time `json:"collected_at"`
}

// ItemStats is the tracker view the collector needs.
type ItemStats interface {
	Statistics() model.Statistics
}

// BatchLedgers is the orchestrator view the collector needs.
type BatchLedgers interface {
	Jobs() map[string]batch.Job
	DeadLetters() []batch.DeadLetter
	Costs() map[string]batch.CostEntry
}

// Collector gathers snapshots from the tracker and batch ledgers.
type Collector struct {
	items   ItemStats
	batches BatchLedgers
}

// NewCollector creates a collector over the given sources.
func NewCollector(items ItemStats, batches BatchLedgers) *Collector {
	return &Collector{items: items, batches: batches}
}

// Collect builds a snapshot of the current pipeline state.
func (c *Collector) Collect() *Snapshot {
	snap := &Snapshot{
		Items:           c.items.Statistics(),
		BatchesByStatus: map[string]int{},
		CollectedAt:     time.Now().UTC(),
	}

	var terminal, failed int
	for _, job := range c.batches.Jobs() {
		snap.BatchesByStatus[string(job.Status)]++
		snap.BatchesTotal++
		if job.Status.Terminal() {
			terminal++
			if job.Status != model.BatchCompleted {
				failed++
			}
		}
	}
	if terminal > 0 {
		snap.BatchFailRate = float64(failed) / float64(terminal)
	}

	snap.DeadLetterDepth = len(c.batches.DeadLetters())
	for _, entry := range c.batches.Costs() {
		snap.TotalCostUSD += entry.EstimatedCost
	}

	return snap
}
