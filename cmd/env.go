package main

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/aggregate"
	"github.com/stancelab/hansard-cli/internal/artifact"
	"github.com/stancelab/hansard-cli/internal/batch"
	"github.com/stancelab/hansard-cli/internal/config"
	"github.com/stancelab/hansard-cli/internal/cost"
	"github.com/stancelab/hansard-cli/internal/ledger"
	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/internal/monitoring"
	"github.com/stancelab/hansard-cli/internal/pipeline"
	"github.com/stancelab/hansard-cli/internal/speech"
	"github.com/stancelab/hansard-cli/internal/tracker"
	anthropicpkg "github.com/stancelab/hansard-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized stores, orchestrator, and pipeline
// shared by the phase-running commands.
type pipelineEnv struct {
	Speeches  speech.Store
	Track     *tracker.Store
	Orch      *batch.Orchestrator
	Artifacts *artifact.Store
	Pipeline  *pipeline.Pipeline
	Collector *monitoring.Collector
	RunID     string
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Speeches != nil {
		_ = pe.Speeches.Close()
	}
}

// initEnv opens the speech store and ledgers and builds the pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	speeches, err := initSpeechStore(ctx)
	if err != nil {
		return nil, err
	}

	paths := cfg.Paths
	orch, err := batch.New(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		ledger.NewFile[map[string]batch.Job](filepath.Join(paths.CacheDir(), "batch_jobs.json")),
		ledger.NewFile[map[string]batch.CostEntry](filepath.Join(paths.LogsDir(), "costs.json")),
		ledger.NewFile[[]batch.DeadLetter](filepath.Join(paths.LogsDir(), "failed_requests.json")),
		batch.Config{
			MaxRetryAttempts: cfg.Pipeline.MaxRetryAttempts,
			StatusPollRPS:    cfg.Pipeline.StatusPollRPS,
		})
	if err != nil {
		_ = speeches.Close()
		return nil, err
	}

	track, err := tracker.NewStore(
		ledger.NewFile[map[string]model.ItemState](filepath.Join(paths.CacheDir(), "job_status.json")))
	if err != nil {
		_ = speeches.Close()
		return nil, err
	}

	prompts := config.NewPrompts(paths.PromptsDir())
	if err := prompts.Validate(); err != nil {
		_ = speeches.Close()
		return nil, err
	}

	artifacts := artifact.NewStore(paths.IntermediateDir(), paths.ClientDir())
	agg := aggregate.New(func(id int) (*speech.Person, error) {
		return speeches.Member(ctx, id)
	}, filepath.Join(paths.ClientDir(), "mks"), filepath.Join(paths.ClientDir(), "topics"))

	runID := uuid.NewString()
	p := pipeline.New(pipeline.Options{
		FilterModel:   cfg.Anthropic.FilterModel,
		ScoreModel:    cfg.Anthropic.ScoreModel,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Temperature:   cfg.Anthropic.Temperature,
		MaxBatchSize:  cfg.Anthropic.MaxBatchSize,
		PollInterval:  time.Duration(cfg.Pipeline.PollIntervalSecs) * time.Second,
		ReasoningRate: cfg.Pipeline.ReasoningRate,
		RunID:         runID,
	}, orch, track, speeches, artifacts, prompts, agg,
		cost.NewCalculator(cfg.Pricing),
		rand.New(rand.NewSource(time.Now().UnixNano()))) //nolint:gosec // sampling, not crypto

	zap.L().Info("pipeline initialized",
		zap.String("run_id", runID),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("data_dir", paths.DataDir))

	return &pipelineEnv{
		Speeches:  speeches,
		Track:     track,
		Orch:      orch,
		Artifacts: artifacts,
		Pipeline:  p,
		Collector: monitoring.NewCollector(track, orch),
		RunID:     runID,
	}, nil
}

// initSpeechStore opens the configured read-only speech corpus backend.
func initSpeechStore(ctx context.Context) (speech.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return speech.NewSQLite(ctx, cfg.Store.Path)
	case "postgres":
		return speech.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
