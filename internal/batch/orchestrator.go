// Package batch owns batch-job lifecycle bookkeeping: submission, the
// multi-job polling loop, result retrieval, and bounded retry of failed
// requests. All state lives in JSON ledgers so a crashed run can resume.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stancelab/hansard-cli/internal/ledger"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/internal/resilience"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

var (
	// ErrNotReady is returned by FetchResults for a job that has not
	// reached completed status.
	ErrNotReady = errors.New("batch: job results not ready")
	// ErrNoOutput is returned when a completed job produced no output.
	ErrNoOutput = errors.New("batch: job produced no output")
)

// progressRefresh caps the sub-interval used to refresh live request counts
// between full ledger persistence rounds.
const progressRefresh = 5 * time.Second

// statusCheckConcurrency bounds parallel status calls inside one poll round.
const statusCheckConcurrency = 8

// Config tunes the orchestrator.
type Config struct {
	// MaxRetryAttempts bounds how many times a failed-request batch is
	// resubmitted before dead-lettering.
	MaxRetryAttempts int
	// StatusPollRPS throttles outbound status checks.
	StatusPollRPS float64
}

// Orchestrator submits chunks of requests as batch jobs, polls them to a
// terminal status, and retrieves their results. It is the single writer of
// the batch, cost, and dead-letter ledgers.
type Orchestrator struct {
	client anthropic.Client
	cfg    Config

	limiter *rate.Limiter

	mu          sync.Mutex
	jobs        map[string]Job
	jobsFile    *ledger.File[map[string]Job]
	costs       map[string]CostEntry
	costsFile   *ledger.File[map[string]CostEntry]
	deadLetters []DeadLetter
	deadFile    *ledger.File[[]DeadLetter]
}

// New loads the three ledgers and returns an orchestrator ready to resume
// any jobs recorded by a previous run.
func New(client anthropic.Client, jobsFile *ledger.File[map[string]Job],
	costsFile *ledger.File[map[string]CostEntry], deadFile *ledger.File[[]DeadLetter],
	cfg Config) (*Orchestrator, error) {

	jobs, err := jobsFile.Load()
	if err != nil {
		return nil, eris.Wrap(err, "batch: load job ledger")
	}
	if jobs == nil {
		jobs = map[string]Job{}
	}
	costs, err := costsFile.Load()
	if err != nil {
		return nil, eris.Wrap(err, "batch: load cost ledger")
	}
	if costs == nil {
		costs = map[string]CostEntry{}
	}
	dead, err := deadFile.Load()
	if err != nil {
		return nil, eris.Wrap(err, "batch: load dead-letter ledger")
	}

	rps := cfg.StatusPollRPS
	if rps <= 0 {
		rps = 4
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 3
	}

	return &Orchestrator{
		client:      client,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		jobs:        jobs,
		jobsFile:    jobsFile,
		costs:       costs,
		costsFile:   costsFile,
		deadLetters: dead,
		deadFile:    deadFile,
	}, nil
}

// Submit sends one chunk of requests as one batch job. The ledger entry is
// persisted before the id is returned, so the ledger always covers every
// job actually created.
func (o *Orchestrator) Submit(ctx context.Context, requests []anthropic.BatchRequestItem, meta Metadata) (string, error) {
	if len(requests) == 0 {
		return "", eris.New("batch: submit called with no requests")
	}

	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("anthropic", "create batch"),
	}, func(ctx context.Context) (*anthropic.BatchResponse, error) {
		return o.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: requests})
	})
	if err != nil {
		return "", eris.Wrap(err, "batch: create batch")
	}

	job := Job{
		ID:           resp.ID,
		Metadata:     meta,
		SubmittedAt:  time.Now().UTC(),
		Status:       model.BatchSubmitted,
		RequestCount: len(requests),
		ResultsURL:   resp.ResultsURL,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs[resp.ID] = job
	if err := o.jobsFile.Save(o.jobs); err != nil {
		return "", eris.Wrap(err, "batch: persist job ledger")
	}

	zap.L().Info("batch submitted",
		zap.String("batch_id", resp.ID),
		zap.String("phase", string(meta.Phase)),
		zap.Int("member_id", meta.MemberID),
		zap.Int("chunk_index", meta.ChunkIndex),
		zap.Int("requests", len(requests)))

	return resp.ID, nil
}

// pollResult carries one job's refreshed state out of a poll round.
type pollResult struct {
	id     string
	status model.BatchStatus
	counts model.RequestCounts
	url    string
	err    error
}

// PollUntilTerminal polls every given job until all reach a terminal
// status. Live request counts are refreshed on a short sub-interval; the
// ledger is persisted once per full poll interval to bound write
// amplification. A poll failure for one job marks it status error and
// drops it from the outstanding set without disturbing the others.
// Cancellation is honored at round boundaries.
func (o *Orchestrator) PollUntilTerminal(ctx context.Context, batchIDs []string, interval time.Duration) (map[string]model.BatchStatus, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	refresh := progressRefresh
	if interval < refresh {
		refresh = interval
	}

	outstanding := make(map[string]struct{}, len(batchIDs))
	for _, id := range batchIDs {
		outstanding[id] = struct{}{}
	}
	terminal := make(map[string]model.BatchStatus, len(batchIDs))

	lastPersist := time.Time{}
	for len(outstanding) > 0 {
		if err := ctx.Err(); err != nil {
			return terminal, eris.Wrap(err, "batch: polling interrupted")
		}

		results := o.checkAll(ctx, outstanding)

		o.mu.Lock()
		for _, res := range results {
			job := o.jobs[res.id]
			if job.ID == "" {
				job.ID = res.id
			}
			if res.err != nil {
				zap.L().Warn("batch status poll failed, abandoning job",
					zap.String("batch_id", res.id), zap.Error(res.err))
				job.Status = model.BatchError
				o.jobs[res.id] = job
				terminal[res.id] = model.BatchError
				delete(outstanding, res.id)
				continue
			}

			job.Counts = res.counts
			if res.url != "" {
				job.ResultsURL = res.url
			}
			if res.status.Terminal() {
				now := time.Now().UTC()
				job.Status = res.status
				job.CompletedAt = &now
				terminal[res.id] = res.status
				delete(outstanding, res.id)
				if res.status == model.BatchCompleted {
					o.costs[res.id] = CostEntry{
						Timestamp: now,
						Requests:  res.counts,
						Metadata:  job.Metadata,
					}
				}
				zap.L().Info("batch reached terminal status",
					zap.String("batch_id", res.id),
					zap.String("status", string(res.status)),
					zap.Int("completed", res.counts.Completed),
					zap.Int("failed", res.counts.Failed))
			} else {
				zap.L().Debug("batch in progress",
					zap.String("batch_id", res.id),
					zap.Int("completed", res.counts.Completed),
					zap.Int("total", res.counts.Total))
			}
			o.jobs[res.id] = job
		}

		persistDue := len(outstanding) == 0 || time.Since(lastPersist) >= interval
		var persistErr error
		if persistDue {
			persistErr = o.persistLocked()
			lastPersist = time.Now()
		}
		o.mu.Unlock()
		if persistErr != nil {
			return terminal, persistErr
		}

		if len(outstanding) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return terminal, eris.Wrap(ctx.Err(), "batch: polling interrupted")
		case <-time.After(refresh):
		}
	}

	return terminal, nil
}

// checkAll issues one status check per outstanding job, fanned out with a
// bounded group. Results are collected under a local lock; ledger writes
// stay with the polling goroutine.
func (o *Orchestrator) checkAll(ctx context.Context, outstanding map[string]struct{}) []pollResult {
	var (
		mu      sync.Mutex
		results []pollResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusCheckConcurrency)

	for id := range outstanding {
		g.Go(func() error {
			res := o.checkOne(gctx, id)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-job errors are carried in results

	return results
}

func (o *Orchestrator) checkOne(ctx context.Context, id string) pollResult {
	if err := o.limiter.Wait(ctx); err != nil {
		return pollResult{id: id, err: err}
	}

	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		OnRetry: resilience.RetryLogger("anthropic", "get batch"),
	}, func(ctx context.Context) (*anthropic.BatchResponse, error) {
		return o.client.GetBatch(ctx, id)
	})
	if err != nil {
		return pollResult{id: id, err: err}
	}

	return pollResult{
		id:     id,
		status: statusOf(resp),
		counts: countsOf(resp.RequestCounts),
		url:    resp.ResultsURL,
	}
}

// statusOf maps the service's processing status onto the ledger status. An
// ended batch whose requests all failed the same way takes that outcome;
// any other ended batch counts as completed.
func statusOf(resp *anthropic.BatchResponse) model.BatchStatus {
	switch resp.ProcessingStatus {
	case "in_progress":
		return model.BatchSubmitted
	case "canceling":
		return model.BatchSubmitted
	case "ended":
		c := resp.RequestCounts
		total := c.Total()
		switch {
		case total > 0 && c.Expired == total:
			return model.BatchExpired
		case total > 0 && c.Canceled == total:
			return model.BatchCancelled
		case total > 0 && c.Errored == total:
			return model.BatchFailed
		default:
			return model.BatchCompleted
		}
	default:
		return model.BatchSubmitted
	}
}

func countsOf(c anthropic.RequestCounts) model.RequestCounts {
	return model.RequestCounts{
		Total:     int(c.Total()),
		Completed: int(c.Succeeded),
		Failed:    int(c.Errored + c.Expired + c.Canceled),
	}
}

// persistLocked writes both mutable ledgers. Callers hold o.mu.
func (o *Orchestrator) persistLocked() error {
	if err := o.jobsFile.Save(o.jobs); err != nil {
		return eris.Wrap(err, "batch: persist job ledger")
	}
	if err := o.costsFile.Save(o.costs); err != nil {
		return eris.Wrap(err, "batch: persist cost ledger")
	}
	return nil
}

// Job returns the ledger entry for a batch id.
func (o *Orchestrator) Job(batchID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[batchID]
	return job, ok
}

// Jobs returns a snapshot of the full batch ledger.
func (o *Orchestrator) Jobs() map[string]Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]Job, len(o.jobs))
	for id, job := range o.jobs {
		out[id] = job
	}
	return out
}

// DeadLetters returns a snapshot of the dead-letter ledger.
func (o *Orchestrator) DeadLetters() []DeadLetter {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]DeadLetter, len(o.deadLetters))
	copy(out, o.deadLetters)
	return out
}

// Costs returns a snapshot of the cost ledger.
func (o *Orchestrator) Costs() map[string]CostEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]CostEntry, len(o.costs))
	for id, entry := range o.costs {
		out[id] = entry
	}
	return out
}

// RecordUsage enriches a completed job's cost entry with token usage and
// the estimated spend computed by the caller.
func (o *Orchestrator) RecordUsage(batchID string, usage anthropic.TokenUsage, estimatedCost float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.costs[batchID]
	if !ok {
		entry = CostEntry{Timestamp: time.Now().UTC()}
		if job, found := o.jobs[batchID]; found {
			entry.Metadata = job.Metadata
			entry.Requests = job.Counts
		}
	}
	entry.Usage = &usage
	entry.EstimatedCost = estimatedCost
	o.costs[batchID] = entry

	return eris.Wrap(o.costsFile.Save(o.costs), "batch: persist cost ledger")
}
