package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/compress"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/config"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/diagnosis"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/knowledge"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/learner"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/llm"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/logging"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/pipeline"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/recovery"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/rules"
	"github.com/wang-zerui/acme-failure-diagnosis-system/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a job log and diagnose the first failure",
	RunE:  runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagChunk > 0 {
		cfg.ChunkSize = flagChunk
	}
	if flagRulesDir != "" {
		cfg.RulesDir = flagRulesDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(flagDebug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	if err := os.MkdirAll(cfg.RulesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	filters, err := rules.LoadFilterStore(filepath.Join(cfg.RulesDir, "filter_rules.json"))
	if err != nil {
		return err
	}
	diagRules, err := rules.LoadDiagnosisStore(filepath.Join(cfg.RulesDir, "diagnosis_rules.json"))
	if err != nil {
		return err
	}
	logger.Info("rule stores loaded")

	client, err := llm.NewClient(ctx, cfg.APIKey, llm.Options{
		ProposerModel:  cfg.ProposerModel,
		ReasonerModel:  cfg.ReasonerModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return err
	}

	corpus, err := knowledge.Open(ctx, cfg.KBType, cfg.KBURL)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer corpus.Close()

	runID := uuid.NewString()
	retriever := knowledge.NewRetriever(corpus, client, cfg.RetrievalTopK)
	router := diagnosis.New(diagRules, retriever, client, corpus, client, runID, logger)
	learn := learner.New(client, filters, cfg.SelfConsistencyN, logger)
	executor := recovery.NewSimulatedExecutor(logger)
	pipe := pipeline.New(compress.New(filters), learn, router, executor, runID, os.Stdout, logger)

	src := source.NewReader(cfg.LogFile, cfg.ChunkSize, flagFollow, logger)
	report, err := pipe.Run(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("run complete",
		zap.String("run_id", runID),
		zap.Int("chunks", report.Chunks),
		zap.Bool("failure", report.FailureDetected))
	return nil
}
