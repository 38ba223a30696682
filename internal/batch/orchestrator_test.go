package batch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stancelab/hansard-cli/internal/ledger"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

func newTestOrchestrator(t *testing.T, client anthropic.Client) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o, err := New(client,
		ledger.NewFile[map[string]Job](filepath.Join(dir, "batches.json")),
		ledger.NewFile[map[string]CostEntry](filepath.Join(dir, "costs.json")),
		ledger.NewFile[[]DeadLetter](filepath.Join(dir, "failed_requests.json")),
		Config{MaxRetryAttempts: 3, StatusPollRPS: 1000})
	require.NoError(t, err)
	return o, dir
}

func testRequests(n int) []anthropic.BatchRequestItem {
	items := make([]anthropic.BatchRequestItem, n)
	for i := range items {
		items[i] = anthropic.BatchRequestItem{
			CustomID: "speech_" + string(rune('1'+i)),
			Params:   anthropic.MessageRequest{Model: "test-model", MaxTokens: 64},
		}
	}
	return items
}

func TestSubmit_PersistsBeforeReturning(t *testing.T) {
	client := new(mockClient)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "msgbatch_1", ProcessingStatus: "in_progress"}, nil)

	o, dir := newTestOrchestrator(t, client)
	meta := Metadata{Phase: model.PhaseFilter, MemberID: 42, Topics: []string{"topicA"}}

	id, err := o.Submit(context.Background(), testRequests(2), meta)
	require.NoError(t, err)
	assert.Equal(t, "msgbatch_1", id)

	// A fresh orchestrator sees the job from the ledger file.
	reopened, err := New(new(mockClient),
		ledger.NewFile[map[string]Job](filepath.Join(dir, "batches.json")),
		ledger.NewFile[map[string]CostEntry](filepath.Join(dir, "costs.json")),
		ledger.NewFile[[]DeadLetter](filepath.Join(dir, "failed_requests.json")),
		Config{})
	require.NoError(t, err)
	job, ok := reopened.Job("msgbatch_1")
	require.True(t, ok)
	assert.Equal(t, model.BatchSubmitted, job.Status)
	assert.Equal(t, 2, job.RequestCount)
	assert.Equal(t, meta, job.Metadata)
}

func TestSubmit_EmptyRequests(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(mockClient))
	_, err := o.Submit(context.Background(), nil, Metadata{})
	require.Error(t, err)
}

func TestPollUntilTerminal_MixedOutcomes(t *testing.T) {
	client := new(mockClient)
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "ended",
			ResultsURL:       "https://example.com/r1",
			RequestCounts:    anthropic.RequestCounts{Succeeded: 3, Errored: 1},
		}, nil)
	client.On("GetBatch", mock.Anything, "b2").
		Return(&anthropic.BatchResponse{
			ID:               "b2",
			ProcessingStatus: "ended",
			RequestCounts:    anthropic.RequestCounts{Errored: 2},
		}, nil)
	client.On("GetBatch", mock.Anything, "b3").
		Return(nil, errors.New("boom"))

	o, _ := newTestOrchestrator(t, client)

	statuses, err := o.PollUntilTerminal(context.Background(), []string{"b1", "b2", "b3"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.BatchStatus{
		"b1": model.BatchCompleted,
		"b2": model.BatchFailed,
		"b3": model.BatchError,
	}, statuses)

	// Only the completed job earned a cost entry.
	costs := o.Costs()
	require.Len(t, costs, 1)
	assert.Equal(t, model.RequestCounts{Total: 4, Completed: 3, Failed: 1}, costs["b1"].Requests)

	// One failing poll does not disturb the others' ledger state.
	job, _ := o.Job("b1")
	assert.Equal(t, model.BatchCompleted, job.Status)
	assert.Equal(t, "https://example.com/r1", job.ResultsURL)
	job, _ = o.Job("b3")
	assert.Equal(t, model.BatchError, job.Status)
}

func TestPollUntilTerminal_WaitsForProgress(t *testing.T) {
	client := new(mockClient)
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "in_progress",
			RequestCounts:    anthropic.RequestCounts{Processing: 2},
		}, nil).Once()
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "ended",
			ResultsURL:       "https://example.com/r1",
			RequestCounts:    anthropic.RequestCounts{Succeeded: 2},
		}, nil)

	o, _ := newTestOrchestrator(t, client)

	statuses, err := o.PollUntilTerminal(context.Background(), []string{"b1"}, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, statuses["b1"])
	client.AssertNumberOfCalls(t, "GetBatch", 2)
}

func TestPollUntilTerminal_HonorsCancellation(t *testing.T) {
	client := new(mockClient)
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "in_progress",
			RequestCounts:    anthropic.RequestCounts{Processing: 1},
		}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	o, _ := newTestOrchestrator(t, client)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := o.PollUntilTerminal(ctx, []string{"b1"}, time.Hour)
	require.Error(t, err)
}

func TestFetchResults_NotReady(t *testing.T) {
	client := new(mockClient)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "b1", ProcessingStatus: "in_progress"}, nil)

	o, _ := newTestOrchestrator(t, client)
	_, err := o.Submit(context.Background(), testRequests(1), Metadata{Phase: model.PhaseFilter})
	require.NoError(t, err)

	_, err = o.FetchResults(context.Background(), "b1")
	require.ErrorIs(t, err, ErrNotReady)
}

func TestFetchResults_NoOutput(t *testing.T) {
	client := new(mockClient)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "b1", ProcessingStatus: "in_progress"}, nil)
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "ended",
			RequestCounts:    anthropic.RequestCounts{Succeeded: 1},
		}, nil)

	o, _ := newTestOrchestrator(t, client)
	_, err := o.Submit(context.Background(), testRequests(1), Metadata{})
	require.NoError(t, err)
	_, err = o.PollUntilTerminal(context.Background(), []string{"b1"}, time.Second)
	require.NoError(t, err)

	// Completed but no results URL recorded.
	_, err = o.FetchResults(context.Background(), "b1")
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestFetchResults_StatusCodes(t *testing.T) {
	client := new(mockClient)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "b1", ProcessingStatus: "in_progress"}, nil)
	client.On("GetBatch", mock.Anything, "b1").
		Return(&anthropic.BatchResponse{
			ID:               "b1",
			ProcessingStatus: "ended",
			ResultsURL:       "https://example.com/r1",
			RequestCounts:    anthropic.RequestCounts{Succeeded: 1, Errored: 1, Expired: 1},
		}, nil)
	client.On("GetBatchResults", mock.Anything, "b1").
		Return(&sliceIterator{items: []anthropic.BatchResultItem{
			{CustomID: "speech_2", Type: "errored"},
			{CustomID: "speech_1", Type: "succeeded", Message: &anthropic.MessageResponse{}},
			{CustomID: "speech_3", Type: "expired"},
		}}, nil)

	o, _ := newTestOrchestrator(t, client)
	_, err := o.Submit(context.Background(), testRequests(3), Metadata{})
	require.NoError(t, err)
	_, err = o.PollUntilTerminal(context.Background(), []string{"b1"}, time.Second)
	require.NoError(t, err)

	records, err := o.FetchResults(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, records, 3)

	byID := map[string]ResultRecord{}
	for _, r := range records {
		byID[r.CustomID] = r
	}
	assert.Equal(t, 500, byID["speech_2"].StatusCode)
	assert.Equal(t, 200, byID["speech_1"].StatusCode)
	assert.True(t, byID["speech_1"].OK())
	assert.Equal(t, 408, byID["speech_3"].StatusCode)
}

func TestRetry_TerminatesAfterMaxAttempts(t *testing.T) {
	client := new(mockClient)
	client.On("CreateBatch", mock.Anything, mock.Anything).
		Return(&anthropic.BatchResponse{ID: "retry_batch", ProcessingStatus: "in_progress"}, nil).Twice()

	o, _ := newTestOrchestrator(t, client)
	failed := testRequests(2)
	meta := Metadata{Phase: model.PhaseScore, MemberID: 42, Topic: "topicA", RetryAttempt: 1}

	// Attempts 2 and 3 resubmit.
	id, err := o.Retry(context.Background(), failed, meta)
	require.NoError(t, err)
	assert.Equal(t, "retry_batch", id)

	meta.RetryAttempt = 2
	id, err = o.Retry(context.Background(), failed, meta)
	require.NoError(t, err)
	assert.Equal(t, "retry_batch", id)

	// The budget is spent; requests land in the dead-letter ledger.
	meta.RetryAttempt = 3
	id, err = o.Retry(context.Background(), failed, meta)
	require.NoError(t, err)
	assert.Empty(t, id)

	dead := o.DeadLetters()
	require.Len(t, dead, 2)
	assert.Equal(t, "speech_1", dead[0].Request.CustomID)
	assert.Equal(t, 3, dead[0].Metadata.RetryAttempt)
	client.AssertNumberOfCalls(t, "CreateBatch", 2)
}

func TestRetry_NoFailedRequests(t *testing.T) {
	o, _ := newTestOrchestrator(t, new(mockClient))
	id, err := o.Retry(context.Background(), nil, Metadata{})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		name   string
		resp   anthropic.BatchResponse
		expect model.BatchStatus
	}{
		{"in progress", anthropic.BatchResponse{ProcessingStatus: "in_progress"}, model.BatchSubmitted},
		{"ended mixed", anthropic.BatchResponse{ProcessingStatus: "ended",
			RequestCounts: anthropic.RequestCounts{Succeeded: 1, Errored: 1}}, model.BatchCompleted},
		{"ended all errored", anthropic.BatchResponse{ProcessingStatus: "ended",
			RequestCounts: anthropic.RequestCounts{Errored: 2}}, model.BatchFailed},
		{"ended all expired", anthropic.BatchResponse{ProcessingStatus: "ended",
			RequestCounts: anthropic.RequestCounts{Expired: 2}}, model.BatchExpired},
		{"ended all canceled", anthropic.BatchResponse{ProcessingStatus: "ended",
			RequestCounts: anthropic.RequestCounts{Canceled: 2}}, model.BatchCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, statusOf(&tc.resp))
		})
	}
}
