package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"autograph.dev/model"
)

func TestRunFailedErrorMessageIncludesPathAndFindings(t *testing.T) {
	err := &runFailedError{result: model.OrchestratorResult{Path: model.PathColdStart, FindingsCount: 0}}
	assert.Contains(t, err.Error(), "cold_start")
	assert.Contains(t, err.Error(), "findings=0")
}

func TestRunCommandRegisteredUnderRoot(t *testing.T) {
	found := false
	for _, c := range RootCmd.Commands() {
		if c.Use == "run" {
			found = true
		}
	}
	assert.True(t, found, "run subcommand must be registered on RootCmd")
}
