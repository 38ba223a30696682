package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

const scoreSystemPrompt = "You are a political speech analyst. Score stance " +
	"on topics from 1 (strongly opposes) to 10 (strongly supports). Respond " +
	"with JSON only."

// scorePayload is the JSON body of a score response.
type scorePayload struct {
	StanceScore *float64 `json:"stance_score"`
	Reasoning   string   `json:"reasoning"`
}

// scoreRun carries the per-run accumulation of scored rows so pairs split
// across several chunks end with one full overwrite containing every row.
type scoreRun struct {
	rows  map[model.WorkItem]map[int64]artifact.ScoredRow
	texts map[model.WorkItem]map[int64]string
}

// RunScore executes the score phase for the given filter-complete pairs.
// Each pair's intermediate artifact supplies the speeches to score; a
// per-row random draw decides whether a short rationale is solicited.
func (p *Pipeline) RunScore(ctx context.Context, pairs []model.WorkItem) error {
	if len(pairs) == 0 {
		zap.L().Info("no pairs to score")
		return nil
	}
	zap.L().Info("starting score phase",
		zap.Int("pairs", len(pairs)),
		zap.Float64("reasoning_rate", p.opts.ReasoningRate))

	run := &scoreRun{
		rows:  make(map[model.WorkItem]map[int64]artifact.ScoredRow),
		texts: make(map[model.WorkItem]map[int64]string),
	}

	flights := make(map[string]inflight)
	for _, pair := range pairs {
		if err := p.submitScoreBatches(ctx, pair, run, flights); err != nil {
			return err
		}
	}
	if len(flights) == 0 {
		zap.L().Warn("score phase produced no batches")
		return nil
	}

	zap.L().Info("polling score batches", zap.Int("batches", len(flights)))
	return p.pollAndProcess(ctx, flights,
		func(ctx context.Context, batchID string, ok []batch.ResultRecord, meta batch.Metadata) error {
			return p.handleScoreBatch(ctx, batchID, ok, meta, run)
		})
}

// submitScoreBatches builds and submits every chunk for one pair. Pairs
// with no usable intermediate artifact are skipped with a warning.
func (p *Pipeline) submitScoreBatches(ctx context.Context, pair model.WorkItem, run *scoreRun, flights map[string]inflight) error {
	filtered, err := p.artifacts.ReadFiltered(pair.MemberID, pair.Topic)
	if err != nil {
		return err
	}
	if len(filtered) == 0 {
		zap.L().Warn("no filtered speeches to score",
			zap.Int("member_id", pair.MemberID), zap.String("topic", pair.Topic))
		return nil
	}

	prompt, err := p.prompts.ScoringPrompt(pair.Topic)
	if err != nil {
		return err
	}
	system := anthropic.BuildCachedSystemBlocks(scoreSystemPrompt + "\n\n" + prompt)

	texts := make(map[int64]string, len(filtered))
	items := make([]anthropic.BatchRequestItem, 0, len(filtered))
	for _, row := range filtered {
		texts[row.ID] = row.Text
		withReasoning := p.rng.Float64() < p.opts.ReasoningRate

		items = append(items, anthropic.BatchRequestItem{
			CustomID: scoreCustomID(row.ID, withReasoning),
			Params: anthropic.MessageRequest{
				Model:       p.opts.ScoreModel,
				MaxTokens:   p.opts.MaxTokens,
				System:      system,
				Temperature: &p.opts.Temperature,
				Messages: []anthropic.Message{{
					Role:    "user",
					Content: buildScoreMessage(row.Text, pair.Topic, withReasoning),
				}},
			},
		})
	}
	run.texts[pair] = texts

	zap.L().Info("submitting score requests",
		zap.Int("member_id", pair.MemberID),
		zap.String("topic", pair.Topic),
		zap.Int("requests", len(items)))

	for i, chunkItems := range chunkRequests(items, p.opts.MaxBatchSize) {
		meta := batch.Metadata{
			Phase:      model.PhaseScore,
			MemberID:   pair.MemberID,
			Topic:      pair.Topic,
			ChunkIndex: i,
			RunID:      p.opts.RunID,
		}
		id, err := p.orch.Submit(ctx, chunkItems, meta)
		if err != nil {
			return err
		}
		flights[id] = inflight{meta: meta, requests: requestsByID(chunkItems)}
	}
	return nil
}

func buildScoreMessage(text, topic string, withReasoning bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Speech Text:\n%s\n\nTopic: %s\n\n", text, topic)
	if withReasoning {
		b.WriteString("Also provide a one-sentence reasoning for your score.\n\n")
	}
	b.WriteString("Respond with JSON only, format:\n{\n  \"stance_score\": 1-10")
	if withReasoning {
		b.WriteString(",\n  \"reasoning\": \"one sentence\"")
	}
	b.WriteString("\n}")
	return b.String()
}

// handleScoreBatch folds one completed score batch into the pair's final
// artifact, marks it score-complete, and refreshes the aggregates. The
// artifact write is a full overwrite of every row accumulated for the pair
// so far, so chunks compose and reruns supersede.
func (p *Pipeline) handleScoreBatch(ctx context.Context, batchID string, ok []batch.ResultRecord, meta batch.Metadata, run *scoreRun) error {
	p.recordUsage(batchID, p.opts.ScoreModel, ok)

	pair := model.WorkItem{MemberID: meta.MemberID, Topic: meta.Topic}
	if run.rows[pair] == nil {
		run.rows[pair] = make(map[int64]artifact.ScoredRow)
	}
	texts := run.texts[pair]

	for _, rec := range ok {
		speechID, withReasoning, err := parseScoreCustomID(rec.CustomID)
		if err != nil {
			zap.L().Warn("skipping result with bad custom id",
				zap.String("batch_id", batchID), zap.String("custom_id", rec.CustomID))
			continue
		}
		if rec.Message == nil {
			zap.L().Warn("result without message body", zap.String("custom_id", rec.CustomID))
			continue
		}

		var payload scorePayload
		if err := decodeJSON(rec.Message.Text(), &payload); err != nil || payload.StanceScore == nil {
			zap.L().Warn("unparsable score result",
				zap.String("batch_id", batchID),
				zap.Int64("speech_id", speechID),
				zap.Error(err))
			continue
		}

		sm, err := p.speeches.SpeechMeta(ctx, speechID)
		if err != nil {
			return err
		}
		if sm == nil {
			zap.L().Warn("scored speech missing from corpus", zap.Int64("speech_id", speechID))
			continue
		}

		reasoning := ""
		if withReasoning {
			reasoning = payload.Reasoning
		}
		run.rows[pair][speechID] = artifact.ScoredRow{
			ID:        speechID,
			Date:      sm.Date,
			Topic:     meta.Topic,
			Text:      texts[speechID],
			Rank:      *payload.StanceScore,
			Reasoning: reasoning,
		}
	}

	rows := make([]artifact.ScoredRow, 0, len(run.rows[pair]))
	for _, row := range run.rows[pair] {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	if len(rows) > 0 {
		if err := p.artifacts.WriteScored(pair.MemberID, pair.Topic, rows); err != nil {
			return err
		}
	}

	if err := p.track.MarkComplete(pair, model.PhaseScore, []string{batchID}); err != nil {
		return err
	}
	if err := p.agg.Update(pair.MemberID, pair.Topic, rows); err != nil {
		return err
	}

	reasoned := 0
	for _, row := range rows {
		if row.Reasoning != "" {
			reasoned++
		}
	}
	zap.L().Info("score batch processed",
		zap.String("batch_id", batchID),
		zap.Int("member_id", pair.MemberID),
		zap.String("topic", pair.Topic),
		zap.Int("rows", len(rows)),
		zap.Int("with_reasoning", reasoned))
	return nil
}
