package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

const filterSystemPrompt = "You are a political speech analyst. Rate speech " +
	"relevance to topics on a scale of 1-5. Respond with JSON only."

// relevanceEntry is the per-topic payload inside a filter response.
type relevanceEntry struct {
	Relevance float64 `json:"relevance"`
}

// RunFilter executes the filter phase for the given pending pairs: each
// member's speeches are screened against every topic pending for that
// member in a single request per speech, chunked into batch jobs.
func (p *Pipeline) RunFilter(ctx context.Context, pairs []model.WorkItem) error {
	if len(pairs) == 0 {
		zap.L().Info("no pairs to filter")
		return nil
	}
	zap.L().Info("starting filter phase", zap.Int("pairs", len(pairs)))

	memberTopics := make(map[int][]string)
	for _, pair := range pairs {
		memberTopics[pair.MemberID] = append(memberTopics[pair.MemberID], pair.Topic)
	}

	flights := make(map[string]inflight)
	for memberID, topics := range memberTopics {
		if err := p.submitFilterBatches(ctx, memberID, topics, flights); err != nil {
			return err
		}
	}
	if len(flights) == 0 {
		zap.L().Warn("filter phase produced no batches")
		return nil
	}

	zap.L().Info("polling filter batches", zap.Int("batches", len(flights)))
	return p.pollAndProcess(ctx, flights, p.handleFilterBatch)
}

// submitFilterBatches builds and submits every chunk for one member.
func (p *Pipeline) submitFilterBatches(ctx context.Context, memberID int, topics []string, flights map[string]inflight) error {
	speeches, err := p.speeches.SpeechesByMember(ctx, memberID)
	if err != nil {
		return err
	}
	if len(speeches) == 0 {
		zap.L().Warn("no speeches for member", zap.Int("member_id", memberID))
		return nil
	}

	prompt, err := p.prompts.FilterPrompt(topics)
	if err != nil {
		return err
	}
	system := anthropic.BuildCachedSystemBlocks(filterSystemPrompt + "\n\n" + prompt)

	var items []anthropic.BatchRequestItem
	for _, sp := range speeches {
		if strings.TrimSpace(sp.Text) == "" {
			continue
		}
		items = append(items, anthropic.BatchRequestItem{
			CustomID: filterCustomID(sp.ID),
			Params: anthropic.MessageRequest{
				Model:       p.opts.FilterModel,
				MaxTokens:   p.opts.MaxTokens,
				System:      system,
				Temperature: &p.opts.Temperature,
				Messages: []anthropic.Message{{
					Role:    "user",
					Content: buildFilterMessage(sp.Text, topics),
				}},
			},
		})
	}

	zap.L().Info("submitting filter requests",
		zap.Int("member_id", memberID),
		zap.Int("speeches", len(speeches)),
		zap.Int("requests", len(items)),
		zap.Strings("topics", topics))

	for i, chunkItems := range chunkRequests(items, p.opts.MaxBatchSize) {
		meta := batch.Metadata{
			Phase:      model.PhaseFilter,
			MemberID:   memberID,
			Topics:     topics,
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

func buildFilterMessage(text string, topics []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Speech Text:\n%s\n\n", text)
	fmt.Fprintf(&b, "Topics to evaluate:\n%s\n\n", strings.Join(topics, ", "))
	b.WriteString("Respond with JSON only, format:\n{\n")
	for i, topic := range topics {
		fmt.Fprintf(&b, "  %q: {\"relevance\": 1-5}", topic)
		if i < len(topics)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// handleFilterBatch folds one completed filter batch into the intermediate
// artifacts and marks every covered pair filter-complete. Malformed
// individual results are logged and skipped.
func (p *Pipeline) handleFilterBatch(ctx context.Context, batchID string, ok []batch.ResultRecord, meta batch.Metadata) error {
	p.recordUsage(batchID, p.opts.FilterModel, ok)

	// Fetch the texts for all successfully screened speeches in one query.
	var ids []int64
	for _, rec := range ok {
		id, err := parseFilterCustomID(rec.CustomID)
		if err != nil {
			zap.L().Warn("skipping result with bad custom id",
				zap.String("batch_id", batchID), zap.String("custom_id", rec.CustomID))
			continue
		}
		ids = append(ids, id)
	}
	texts, err := p.speeches.SpeechTexts(ctx, ids)
	if err != nil {
		return err
	}

	byTopic := make(map[string][]artifact.FilteredRow)
	for _, rec := range ok {
		speechID, err := parseFilterCustomID(rec.CustomID)
		if err != nil {
			continue
		}
		text := texts[speechID]
		if text == "" {
			continue
		}
		if rec.Message == nil {
			zap.L().Warn("result without message body", zap.String("custom_id", rec.CustomID))
			continue
		}

		var scores map[string]relevanceEntry
		if err := decodeJSON(rec.Message.Text(), &scores); err != nil {
			zap.L().Warn("unparsable filter result",
				zap.String("batch_id", batchID),
				zap.Int64("speech_id", speechID),
				zap.Error(err))
			continue
		}

		for topic, entry := range scores {
			byTopic[topic] = append(byTopic[topic], artifact.FilteredRow{
				ID:             speechID,
				Text:           text,
				RelevanceScore: entry.Relevance,
			})
		}
	}

	saved := 0
	for topic, rows := range byTopic {
		if err := p.artifacts.AppendFiltered(meta.MemberID, topic, rows); err != nil {
			return err
		}
		saved += len(rows)
	}

	for _, topic := range meta.Topics {
		item := model.WorkItem{MemberID: meta.MemberID, Topic: topic}
		if err := p.track.MarkComplete(item, model.PhaseFilter, []string{batchID}); err != nil {
			return err
		}
	}

	zap.L().Info("filter batch processed",
		zap.String("batch_id", batchID),
		zap.Int("member_id", meta.MemberID),
		zap.Int("rows_saved", saved),
		zap.Int("topics", len(byTopic)))
	return nil
}
