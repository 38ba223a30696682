// Package pipeline drives the two phases of the stance analysis: filtering
// speeches for topic relevance and scoring the filtered speeches. Each
// phase builds batch requests, hands them to the orchestrator, and folds
// completed results back into artifacts and tracker state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/aggregate"
	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/config"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/internal/speech"
	"github.com/stancelab/hansard-cli/internal/tracker"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

// Options tunes stage behavior. Zero values take the documented defaults.
type Options struct {
	FilterModel   string
	ScoreModel    string
	MaxTokens     int64
	Temperature   float64
	MaxBatchSize  int
	PollInterval  time.Duration
	ReasoningRate float64
	RunID         string
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 10000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// Pipeline wires the stages to their collaborators. The random source is
// injected so batch composition is reproducible in tests.
type Pipeline struct {
	opts      Options
	orch      *batch.Orchestrator
	track     *tracker.Store
	speeches  speech.Store
	artifacts *artifact.Store
	prompts   *config.Prompts
	agg       *aggregate.Engine
	coster    usageCoster
	rng       *rand.Rand
}

// New assembles a pipeline. coster may be nil to skip spend estimation.
func New(opts Options, orch *batch.Orchestrator, track *tracker.Store,
	speeches speech.Store, artifacts *artifact.Store, prompts *config.Prompts,
	agg *aggregate.Engine, coster usageCoster, rng *rand.Rand) *Pipeline {

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // sampling, not crypto
	}
	return &Pipeline{
		opts:      opts.withDefaults(),
		orch:      orch,
		track:     track,
		speeches:  speeches,
		artifacts: artifacts,
		prompts:   prompts,
		agg:       agg,
		coster:    coster,
		rng:       rng,
	}
}

// inflight pairs an outstanding batch id with what was submitted in it, so
// failed requests can be isolated and resubmitted after completion.
type inflight struct {
	meta     batch.Metadata
	requests map[string]anthropic.BatchRequestItem
}

func requestsByID(items []anthropic.BatchRequestItem) map[string]anthropic.BatchRequestItem {
	m := make(map[string]anthropic.BatchRequestItem, len(items))
	for _, item := range items {
		m[item.CustomID] = item
	}
	return m
}

// pollAndProcess drives every in-flight batch to a terminal status, hands
// the successful records of completed batches to handle, and resubmits
// failed records as retry batches until the set drains or the retry
// budget dead-letters them. One batch's failure is isolated: a batch that
// ends failed, expired, or unreachable is logged and dropped.
func (p *Pipeline) pollAndProcess(ctx context.Context, flights map[string]inflight,
	handle func(ctx context.Context, batchID string, ok []batch.ResultRecord, meta batch.Metadata) error) error {

	outstanding := make([]string, 0, len(flights))
	for id := range flights {
		outstanding = append(outstanding, id)
	}

	for len(outstanding) > 0 {
		statuses, err := p.orch.PollUntilTerminal(ctx, outstanding, p.opts.PollInterval)
		if err != nil {
			return err
		}
		outstanding = outstanding[:0]

		for id, status := range statuses {
			fl := flights[id]
			if status != model.BatchCompleted {
				zap.L().Warn("batch did not complete",
					zap.String("batch_id", id), zap.String("status", string(status)))
				continue
			}

			records, err := p.orch.FetchResults(ctx, id)
			if err != nil {
				if errors.Is(err, batch.ErrNoOutput) {
					zap.L().Warn("completed batch has no output", zap.String("batch_id", id))
					continue
				}
				return err
			}

			var ok []batch.ResultRecord
			var failed []anthropic.BatchRequestItem
			for _, rec := range records {
				if rec.OK() {
					ok = append(ok, rec)
					continue
				}
				if orig, found := fl.requests[rec.CustomID]; found {
					failed = append(failed, orig)
				} else {
					zap.L().Warn("failed result with unknown custom id",
						zap.String("batch_id", id), zap.String("custom_id", rec.CustomID))
				}
			}

			if err := handle(ctx, id, ok, fl.meta); err != nil {
				return err
			}

			if len(failed) == 0 {
				continue
			}
			retryID, err := p.orch.Retry(ctx, failed, fl.meta)
			if err != nil {
				return err
			}
			if retryID == "" {
				continue // dead-lettered
			}
			retryMeta := fl.meta
			if job, found := p.orch.Job(retryID); found {
				retryMeta = job.Metadata
			}
			flights[retryID] = inflight{meta: retryMeta, requests: requestsByID(failed)}
			outstanding = append(outstanding, retryID)
		}
	}

	return nil
}

// recordUsage sums token usage over a batch's successful records and
// stores the estimated spend on the cost ledger.
func (p *Pipeline) recordUsage(batchID, modelName string, records []batch.ResultRecord) {
	if p.coster == nil {
		return
	}
	var usage anthropic.TokenUsage
	for _, rec := range records {
		if rec.Message != nil {
			usage.Add(rec.Message.Usage)
		}
	}
	cost := p.coster.Claude(modelName, true, usage.InputTokens, usage.OutputTokens,
		usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
	if err := p.orch.RecordUsage(batchID, usage, cost); err != nil {
		zap.L().Warn("failed to record usage", zap.String("batch_id", batchID), zap.Error(err))
	}
}

// usageCoster computes dollar cost for token usage.
type usageCoster interface {
	Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int64) float64
}

// chunkRequests splits items into slices of at most size.
func chunkRequests(items []anthropic.BatchRequestItem, size int) [][]anthropic.BatchRequestItem {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	var chunks [][]anthropic.BatchRequestItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// extractJSON pulls the JSON object out of a model response, tolerating
// code fences and surrounding prose.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if after, found := strings.CutPrefix(text, "```json"); found {
		text = after
	} else if after, found := strings.CutPrefix(text, "```"); found {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func decodeJSON(text string, v any) error {
	payload := extractJSON(text)
	if payload == "" {
		return eris.New("pipeline: no JSON object in response")
	}
	return eris.Wrap(json.Unmarshal([]byte(payload), v), "pipeline: decode response")
}
