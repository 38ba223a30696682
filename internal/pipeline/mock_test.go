package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stancelab/hansard-cli/internal/config"
	"github.com/stancelab/hansard-cli/internal/speech"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

// --- Anthropic batch client mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockClient) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockClient) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(anthropic.BatchResultIterator), args.Error(1)
}

// sliceIterator replays a fixed list of batch result items.
type sliceIterator struct {
	items []anthropic.BatchResultItem
	idx   int
}

func (it *sliceIterator) Next() bool {
	if it.idx >= len(it.items) {
		return false
	}
	it.idx++
	return true
}

func (it *sliceIterator) Item() anthropic.BatchResultItem {
	return it.items[it.idx-1]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

// textResult builds a succeeded result item whose body is one text block.
func textResult(customID, text string) anthropic.BatchResultItem {
	return anthropic.BatchResultItem{
		CustomID: customID,
		Type:     "succeeded",
		Message: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
			Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
		},
	}
}

// --- Speech store fake ---

type fakeSpeechStore struct {
	speeches map[int][]speech.Speech
	meta     map[int64]*speech.SpeechMeta
	people   map[int]*speech.Person
}

func (f *fakeSpeechStore) SpeechesByMember(_ context.Context, memberID int) ([]speech.Speech, error) {
	return f.speeches[memberID], nil
}

func (f *fakeSpeechStore) SpeechTexts(_ context.Context, ids []int64) (map[int64]string, error) {
	texts := make(map[int64]string)
	for _, list := range f.speeches {
		for _, sp := range list {
			texts[sp.ID] = sp.Text
		}
	}
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if text, ok := texts[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

func (f *fakeSpeechStore) SpeechMeta(_ context.Context, id int64) (*speech.SpeechMeta, error) {
	return f.meta[id], nil
}

func (f *fakeSpeechStore) Member(_ context.Context, id int) (*speech.Person, error) {
	return f.people[id], nil
}

func (f *fakeSpeechStore) SearchMembers(_ context.Context, _ string) ([]speech.Person, error) {
	return nil, nil
}

func (f *fakeSpeechStore) MemberIDs(_ context.Context) ([]int, error) {
	ids := make([]int, 0, len(f.people))
	for id := range f.people {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSpeechStore) Close() error { return nil }

// writeTestPrompts lays out a minimal prompt directory.
func writeTestPrompts(t *testing.T, dir string, topics ...string) *config.Prompts {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scoring"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filter_prompt.txt"),
		[]byte("Rate relevance for each topic.\n{topic_descriptions}\n"), 0o644))

	var yaml string
	for _, topic := range topics {
		yaml += topic + ": description of " + topic + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scoring", topic+".txt"),
			[]byte("Score stance on "+topic+"."), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "topic_descriptions.yaml"),
		[]byte(yaml), 0o644))

	return config.NewPrompts(dir)
}
