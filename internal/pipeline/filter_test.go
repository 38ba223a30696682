package pipeline

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stancelab/hansard-cli/internal/aggregate"
	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/ledger"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/internal/speech"
	"github.com/stancelab/hansard-cli/internal/tracker"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

// testEnv bundles a pipeline with its collaborators over temp storage.
type testEnv struct {
	pipeline  *Pipeline
	client    *mockClient
	track     *tracker.Store
	artifacts *artifact.Store
	store     *fakeSpeechStore
	dir       string
}

func newTestEnv(t *testing.T, opts Options, topics ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	client := new(mockClient)
	orch, err := batch.New(client,
		ledger.NewFile[map[string]batch.Job](filepath.Join(dir, "batches.json")),
		ledger.NewFile[map[string]batch.CostEntry](filepath.Join(dir, "costs.json")),
		ledger.NewFile[[]batch.DeadLetter](filepath.Join(dir, "failed_requests.json")),
		batch.Config{MaxRetryAttempts: 3, StatusPollRPS: 1000})
	require.NoError(t, err)

	track, err := tracker.NewStore(
		ledger.NewFile[map[string]model.ItemState](filepath.Join(dir, "items.json")))
	require.NoError(t, err)

	store := &fakeSpeechStore{
		speeches: map[int][]speech.Speech{},
		meta:     map[int64]*speech.SpeechMeta{},
		people: map[int]*speech.Person{
			42: {ID: 42, Name: "Dana Levi", Faction: "Faction A", PartyName: "Party A"},
		},
	}

	artifacts := artifact.NewStore(filepath.Join(dir, "intermediate"), filepath.Join(dir, "client"))
	agg := aggregate.New(func(id int) (*speech.Person, error) {
		return store.people[id], nil
	}, filepath.Join(dir, "client", "mks"), filepath.Join(dir, "client", "topics"))

	prompts := writeTestPrompts(t, filepath.Join(dir, "prompts"), topics...)

	if opts.FilterModel == "" {
		opts.FilterModel = "test-filter-model"
	}
	if opts.ScoreModel == "" {
		opts.ScoreModel = "test-score-model"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 256
	}
	if opts.MaxBatchSize == 0 {
		opts.MaxBatchSize = 100
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}

	p := New(opts, orch, track, store, artifacts, prompts, agg, nil, rand.New(rand.NewSource(1)))

	return &testEnv{pipeline: p, client: client, track: track, artifacts: artifacts, store: store, dir: dir}
}

// inProgress and ended build batch status responses for the mock client.
func inProgress(id string) *anthropic.BatchResponse {
	return &anthropic.BatchResponse{ID: id, ProcessingStatus: "in_progress"}
}

func ended(id string, succeeded, errored int64) *anthropic.BatchResponse {
	return &anthropic.BatchResponse{
		ID:               id,
		ProcessingStatus: "ended",
		ResultsURL:       "https://example.com/" + id,
		RequestCounts:    anthropic.RequestCounts{Succeeded: succeeded, Errored: errored},
	}
}

func TestRunFilter_EndToEnd(t *testing.T) {
	env := newTestEnv(t, Options{}, "topicA")
	env.store.speeches[42] = []speech.Speech{
		{ID: 1, MemberID: 42, Text: "first speech"},
		{ID: 2, MemberID: 42, Text: "   "}, // blank text is skipped
		{ID: 3, MemberID: 42, Text: "third speech"},
	}

	env.client.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req anthropic.BatchRequest) bool {
		return len(req.Requests) == 2 // blank speech excluded
	})).Return(inProgress("b1"), nil).Once()
	env.client.On("GetBatch", mock.Anything, "b1").Return(ended("b1", 2, 0), nil)
	// Results arrive out of submission order; correlation is by custom id.
	env.client.On("GetBatchResults", mock.Anything, "b1").
		Return(&sliceIterator{items: []anthropic.BatchResultItem{
			textResult("speech_3", `{"topicA": {"relevance": 2}}`),
			textResult("speech_1", `{"topicA": {"relevance": 4}}`),
		}}, nil)

	pairs := []model.WorkItem{{MemberID: 42, Topic: "topicA"}}
	require.NoError(t, env.pipeline.RunFilter(context.Background(), pairs))

	rows, err := env.artifacts.ReadFiltered(42, "topicA")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, artifact.FilteredRow{ID: 1, Text: "first speech", RelevanceScore: 4}, rows[0])
	assert.Equal(t, artifact.FilteredRow{ID: 3, Text: "third speech", RelevanceScore: 2}, rows[1])

	state, ok := env.track.State(pairs[0])
	require.True(t, ok)
	assert.Equal(t, model.StatusFilterComplete, state.Status)
	assert.Equal(t, []string{"b1"}, state.FilterBatchJobIDs)
	env.client.AssertExpectations(t)
}

func TestRunFilter_MultipleTopicsOneRequest(t *testing.T) {
	env := newTestEnv(t, Options{}, "topicA", "topicB")
	env.store.speeches[42] = []speech.Speech{
		{ID: 1, MemberID: 42, Text: "first speech"},
	}

	env.client.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req anthropic.BatchRequest) bool {
		// One request covers every pending topic for the member.
		return len(req.Requests) == 1
	})).Return(inProgress("b1"), nil).Once()
	env.client.On("GetBatch", mock.Anything, "b1").Return(ended("b1", 1, 0), nil)
	env.client.On("GetBatchResults", mock.Anything, "b1").
		Return(&sliceIterator{items: []anthropic.BatchResultItem{
			textResult("speech_1", `{"topicA": {"relevance": 5}, "topicB": {"relevance": 1}}`),
		}}, nil)

	pairs := []model.WorkItem{
		{MemberID: 42, Topic: "topicA"},
		{MemberID: 42, Topic: "topicB"},
	}
	require.NoError(t, env.pipeline.RunFilter(context.Background(), pairs))

	rowsA, err := env.artifacts.ReadFiltered(42, "topicA")
	require.NoError(t, err)
	rowsB, err := env.artifacts.ReadFiltered(42, "topicB")
	require.NoError(t, err)
	require.Len(t, rowsA, 1)
	require.Len(t, rowsB, 1)
	assert.Equal(t, float64(5), rowsA[0].RelevanceScore)
	assert.Equal(t, float64(1), rowsB[0].RelevanceScore)

	// Both pairs progressed off the same batch.
	for _, pair := range pairs {
		state, ok := env.track.State(pair)
		require.True(t, ok)
		assert.Equal(t, model.StatusFilterComplete, state.Status)
	}
}

func TestRunFilter_MalformedResultSkipped(t *testing.T) {
	env := newTestEnv(t, Options{}, "topicA")
	env.store.speeches[42] = []speech.Speech{
		{ID: 1, MemberID: 42, Text: "first speech"},
		{ID: 3, MemberID: 42, Text: "third speech"},
	}

	env.client.On("CreateBatch", mock.Anything, mock.Anything).Return(inProgress("b1"), nil).Once()
	env.client.On("GetBatch", mock.Anything, "b1").Return(ended("b1", 2, 0), nil)
	env.client.On("GetBatchResults", mock.Anything, "b1").
		Return(&sliceIterator{items: []anthropic.BatchResultItem{
			textResult("speech_1", `not json at all`),
			textResult("speech_3", `{"topicA": {"relevance": 3}}`),
		}}, nil)

	pairs := []model.WorkItem{{MemberID: 42, Topic: "topicA"}}
	require.NoError(t, env.pipeline.RunFilter(context.Background(), pairs))

	rows, err := env.artifacts.ReadFiltered(42, "topicA")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID)

	// The batch still completes the pair.
	state, _ := env.track.State(pairs[0])
	assert.Equal(t, model.StatusFilterComplete, state.Status)
}

func TestRunFilter_NoSpeechesIsNoOp(t *testing.T) {
	env := newTestEnv(t, Options{}, "topicA")

	pairs := []model.WorkItem{{MemberID: 42, Topic: "topicA"}}
	require.NoError(t, env.pipeline.RunFilter(context.Background(), pairs))
	env.client.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}
