// Command desagent runs the DES formulation agent from the command line:
// solve tasks, inspect recommendations, and submit lab feedback.
package main

import (
	"fmt"
	"os"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solventlab/des-agent-go/config"
	"github.com/solventlab/des-agent-go/engine"
	"github.com/solventlab/des-agent-go/feedback"
	"github.com/solventlab/des-agent-go/llm/anthropic"
	"github.com/solventlab/des-agent-go/memory"
	"github.com/solventlab/des-agent-go/memory/embedder/cached"
	"github.com/solventlab/des-agent-go/memory/embedder/mock"
	"github.com/solventlab/des-agent-go/recommend"
	"github.com/solventlab/des-agent-go/sources"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "desagent",
		Short: "Deep eutectic solvent formulation agent",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "desagent.yaml", "path to config file")

	root.AddCommand(newTaskCmd())
	root.AddCommand(newRecCmd())
	root.AddCommand(newFeedbackCmd())
	root.AddCommand(newMemoryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired dependencies behind each subcommand.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	memories *memory.Store
	recs     *recommend.Store
	engine   *engine.Controller
	pipeline *feedback.Pipeline
}

// newApp wires the full dependency graph from configuration. Every
// collaborator is constructed here and injected; nothing is global.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	embedder, err := cached.New(mock.New(), cfg.Memory.CacheEntries)
	if err != nil {
		return nil, err
	}

	memories := memory.NewStore(embedder, memory.Config{
		MaxItems:      cfg.Memory.MaxItems,
		TopK:          cfg.Memory.RetrievalTopK,
		MinSimilarity: cfg.Memory.MinSimilarity,
	}, logger)
	if _, err := os.Stat(cfg.Memory.BankPath); err == nil {
		if err := memories.Load(cfg.Memory.BankPath); err != nil {
			return nil, err
		}
	}

	recs, err := recommend.NewStore(cfg.Storage.RecommendationsDir, logger)
	if err != nil {
		return nil, err
	}

	client := sdk.NewClient()
	gen := anthropic.NewGenerator(&client,
		anthropic.WithModel(cfg.Model.Name),
		anthropic.WithMaxTokens(cfg.Model.MaxTokens),
	)

	opts := []engine.Option{
		engine.WithMemoryStore(memories),
		engine.WithRecommendationStore(recs),
		engine.WithLogger(logger),
		engine.WithConfig(engine.Config{
			MaxIterations:         cfg.Agent.MaxIterations,
			SufficiencyConfidence: cfg.Agent.SufficiencyConfidence,
			EarlyExitConfidence:   cfg.Agent.EarlyExitConfidence,
			MaxSourceFailures:     cfg.Agent.MaxSourceFailures,
			RetrievalTopK:         cfg.Memory.RetrievalTopK,
			MinSimilarity:         cfg.Memory.MinSimilarity,
		}),
	}
	if cfg.Sources.TheoryURL != "" {
		opts = append(opts, engine.WithTheorySource(
			sources.NewHTTPSource("theory", cfg.Sources.TheoryURL, sources.WithLogger(logger))))
	}
	if cfg.Sources.LiteratureURL != "" {
		opts = append(opts, engine.WithLiteratureSource(
			sources.NewHTTPSource("literature", cfg.Sources.LiteratureURL, sources.WithLogger(logger))))
	}
	ctrl := engine.NewController(gen, opts...)

	extractor := memory.NewExtractor(gen, memory.WithExtractorLogger(logger))
	autosave := ""
	if cfg.Memory.Autosave {
		autosave = cfg.Memory.BankPath
	}
	pipeline := feedback.NewPipeline(recs, memories, extractor,
		feedback.WithWorkers(cfg.Feedback.Workers),
		feedback.WithQueueSize(cfg.Feedback.QueueSize),
		feedback.WithAutosave(autosave),
		feedback.WithPipelineLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		memories: memories,
		recs:     recs,
		engine:   ctrl,
		pipeline: pipeline,
	}, nil
}

func (a *app) close() {
	a.pipeline.Close()
	if a.cfg.Memory.Autosave {
		if err := a.memories.Save(a.cfg.Memory.BankPath); err != nil {
			a.logger.Warn("memory bank save failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
