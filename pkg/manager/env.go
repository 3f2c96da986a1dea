package manager

import (
	"os"
	"strconv"

	"github.com/goose-run/agentcore/pkg/tasks"
)

// Env holds the recognized environment options from §6, read once at
// Manager construction via EnvFromOS.
type Env struct {
	SubagentMaxTurns            int
	MaxBackgroundTasks          int
	RecipeRetryTimeoutSeconds   int
	RecipeCleanupTimeoutSeconds int
}

const (
	envSubagentMaxTurns   = "GOOSE_SUBAGENT_MAX_TURNS"
	envMaxBackgroundTasks = "GOOSE_MAX_BACKGROUND_TASKS"
	envRecipeRetryTimeout = "GOOSE_RECIPE_RETRY_TIMEOUT_SECONDS"
	envRecipeCleanupTimeout = "GOOSE_RECIPE_CLEANUP_TIMEOUT_SECONDS"

	defaultMaxBackgroundTasks = 5
)

// EnvFromOS reads the §6 recognized environment variables, falling back
// to spec.md's documented defaults for anything unset or unparsable.
func EnvFromOS() Env {
	return Env{
		SubagentMaxTurns:            intFromEnv(envSubagentMaxTurns, tasks.DefaultSubagentMaxTurns),
		MaxBackgroundTasks:          intFromEnv(envMaxBackgroundTasks, defaultMaxBackgroundTasks),
		RecipeRetryTimeoutSeconds:   intFromEnv(envRecipeRetryTimeout, 60),
		RecipeCleanupTimeoutSeconds: intFromEnv(envRecipeCleanupTimeout, 30),
	}
}

func intFromEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
