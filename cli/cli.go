// Package cli wires this core's dependency graph from configuration and runs
// a single Orchestrator pass to completion. It is grounded on eve's
// cli/root.go cobra/viper entry point, trimmed of the echo HTTP server and
// RabbitMQ/CouchDB bootstrap that has no home in this spec: the only
// external surface named in §6 is the command line itself.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"autograph.dev/compiler"
	"autograph.dev/config"
	"autograph.dev/embedding"
	"autograph.dev/executor"
	"autograph.dev/graphstore"
	"autograph.dev/llmclient"
	"autograph.dev/logging"
	"autograph.dev/model"
	"autograph.dev/orchestrator"
)

var cfgFile string

// RootCmd is the single entry point: `autograph run`.
var RootCmd = &cobra.Command{
	Use:   "autograph",
	Short: "compiles attack traffic into an executable ActionGraph and replays it against a target",
	Long: `autograph discovers IDOR, auth-bypass, privilege-escalation, and
role-tampering vulnerabilities in a web application.

On first contact with a fingerprint it runs a Recon/Critic language-model
compiler pass to produce a compiled ActionGraph, persists it, and executes
it. On every subsequent run against the same fingerprint it skips the
compiler entirely and replays the stored graph deterministically.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "resolve a capture source, compile or replay an ActionGraph, and execute it",
	RunE:  runOnce,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, environment variables only)")
	RootCmd.AddCommand(runCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err == nil {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
	}
	viper.AutomaticEnv()
}

// runOnce builds the dependency graph from environment configuration and
// runs a single Orchestrator pass. The process exit code mirrors the run's
// success (0) or failure (1); a configuration or infrastructure error exits
// nonzero with the error on stderr.
func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewConfigLoader().Load()
	if err != nil {
		return fmt.Errorf("cli: invalid configuration: %w", err)
	}

	logger := logging.New(logging.Config{DebugLogging: cfg.Orchestrator.DebugLogging})

	profile, err := config.ResolveTargetProfile(cfg.Orchestrator.TargetProfileName, cfg.Orchestrator.TargetBaseURL)
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}

	ctx := context.Background()

	repo, err := graphstore.NewNeo4jRepository(ctx, cfg.GraphStore.URI, cfg.GraphStore.Username, cfg.GraphStore.Password, cfg.GraphStore.Database, logging.RunEntry(logger, profile.Name, ""))
	if err != nil {
		return fmt.Errorf("cli: connecting to graph store: %w", err)
	}
	defer repo.Close(ctx)

	budget := llmclient.NewTokenBudget(cfg.Orchestrator.MaxTokenBudget)
	llm := llmclient.New(cfg.LLM.APIKey, anthropic.Model(cfg.LLM.Model), budget, cfg.Orchestrator.DebugLogging, logging.RunEntry(logger, profile.Name, ""))

	comp := compiler.New(llm, profile, cfg.Orchestrator.MaxCriticIterations, logging.RunEntry(logger, profile.Name, ""))
	exec := executor.New(executor.NewRegistry(), repo, comp, 0, logging.RunEntry(logger, profile.Name, ""))

	var embedder embedding.Provider
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.NewHuggingFaceProvider(cfg.Embedding.APIKey)
	}

	o := orchestrator.New(repo, comp, exec, budget, nil, embedder, logging.RunEntry(logger, profile.Name, ""))

	mode := orchestrator.CaptureModeFile
	if cfg.Orchestrator.CaptureMode == "live" {
		mode = orchestrator.CaptureModeLive
	}

	result, err := o.Run(ctx, profile, mode, cfg.Orchestrator.TrafficFile)
	if err != nil {
		return fmt.Errorf("cli: run failed: %w", err)
	}

	logging.RunEntry(logger, profile.Name, result.Path).WithFields(map[string]any{
		"success":        result.Success,
		"findings_count": result.FindingsCount,
		"tokens_used":    result.TokensUsed,
	}).Info("run finished")

	if !result.Success {
		return &runFailedError{result: result}
	}
	return nil
}

// runFailedError marks a completed-but-unsuccessful run so the process
// exits nonzero while still distinguishing "ran to completion, found
// nothing exploitable" from an infrastructure error in the message.
type runFailedError struct {
	result model.OrchestratorResult
}

func (e *runFailedError) Error() string {
	return fmt.Sprintf("run did not succeed (path=%s, findings=%d)", e.result.Path, e.result.FindingsCount)
}
