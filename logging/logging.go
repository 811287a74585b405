// Package logging builds the structured logrus entries this core's
// components log through. It is grounded on eve's common.ContextLogger
// pattern (level/format setup, output routing, operation timing) with the
// field set re-specified for this domain: fingerprint/action-graph identity,
// step execution, and language-model call accounting instead of eve's
// HTTP/database fields.
package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"autograph.dev/model"
)

// OutputSplitter routes error-level entries to stderr and everything else to
// stdout, so a run's structured log stream can still be grepped for failures
// without a separate log-aggregation pipeline.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytesContainsError(p) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

func bytesContainsError(p []byte) bool {
	for _, marker := range []string{"level=error", `"level":"error"`} {
		for i := 0; i+len(marker) <= len(p); i++ {
			if string(p[i:i+len(marker)]) == marker {
				return true
			}
		}
	}
	return false
}

// Config controls level and format. DebugLogging mirrors the §6
// DEBUG_LOGGING environment variable: when true, per-call language-model
// dumps and step-execution events are emitted as structured JSON lines at
// debug level; otherwise a human-readable text formatter at info level.
type Config struct {
	DebugLogging bool
}

// New builds the root *logrus.Logger for a run.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(OutputSplitter{})

	if cfg.DebugLogging {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	return logger
}

// RunEntry returns the base *logrus.Entry for a single orchestrator run,
// tagged with the fields that identify it across every downstream log line.
func RunEntry(logger *logrus.Logger, targetProfile string, runPath model.RunPath) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"target_profile": targetProfile,
		"run_path":       string(runPath),
	})
}

// FingerprintFields tags a log entry with the fingerprint identity a
// recon/compile/execute cycle is operating against.
func FingerprintFields(fp model.Fingerprint) logrus.Fields {
	return logrus.Fields{
		"fingerprint_hash": fp.Hash,
		"auth_model":       fp.AuthModel,
	}
}

// ActionGraphFields tags a log entry with the ActionGraph a compile or
// execute operation produced or is replaying.
func ActionGraphFields(ag model.ActionGraph) logrus.Fields {
	return logrus.Fields{
		"action_graph_id":    ag.ID,
		"vulnerability_type": string(ag.VulnerabilityType),
	}
}

// StepFields tags a log entry with the step the executor is currently
// running.
func StepFields(step model.Step) logrus.Fields {
	return logrus.Fields{
		"step_order": step.Order,
		"step_type":  string(step.Type),
		"step_phase": string(step.Phase),
	}
}

// ModelCallFields tags a log entry with a single Recon/Critic language-model
// call's token accounting, including the cumulative run total so the budget
// is visible on every line without cross-referencing.
func ModelCallFields(modelID string, inputTokens, outputTokens, cumulativeTokens int) logrus.Fields {
	return logrus.Fields{
		"model_id":          modelID,
		"input_tokens":      inputTokens,
		"output_tokens":     outputTokens,
		"cumulative_tokens": cumulativeTokens,
	}
}

// LogOperation logs the start and end of fn, tagging the end line with its
// duration and, on error, the failure.
func LogOperation(entry *logrus.Entry, operation string, fn func() error) error {
	entry.WithField("operation", operation).Debug("operation started")
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	done := entry.WithFields(logrus.Fields{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		done.WithError(err).Error("operation failed")
		return err
	}
	done.Debug("operation completed")
	return nil
}

// LogPanic recovers a panic on entry's goroutine and logs it with a stack
// trace, without re-panicking. Callers that need the process to still crash
// should re-panic themselves after this returns.
func LogPanic(entry *logrus.Entry) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.WithFields(logrus.Fields{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}
