// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetPipelineLogger returns a logger for the pipeline store
func GetPipelineLogger() zerolog.Logger {
	return GetLogger("pipeline")
}

// GetResearchLogger returns a logger for the research context store
func GetResearchLogger() zerolog.Logger {
	return GetLogger("research")
}

// GetExecutorLogger returns a logger for pipeline execution
func GetExecutorLogger() zerolog.Logger {
	return GetLogger("executor")
}

// GetConnectionLogger returns a logger for the backend socket
func GetConnectionLogger() zerolog.Logger {
	return GetLogger("connection")
}

// GetRecoveryLogger returns a logger for error recovery decisions
func GetRecoveryLogger() zerolog.Logger {
	return GetLogger("recovery")
}

// GetStorageLogger returns a logger for durable slot storage
func GetStorageLogger() zerolog.Logger {
	return GetLogger("storage")
}

// GetAILogger returns a logger for AI backend calls
func GetAILogger() zerolog.Logger {
	return GetLogger("ai")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetCLILogger returns a logger for CLI commands
func GetCLILogger() zerolog.Logger {
	return GetLogger("cli")
}
