// Package observability provides logging and metrics support for the research
// trend service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for pipeline runs, task steps, the store, and sources
//   - Context helpers for propagating request and run identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stderr",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("scope", scope.Keywords()).Msg("scope registered")
//
// Output may also be a file path, which is opened for appending.
//
// Add pipeline context to a logger:
//
//	logger = observability.WithRunContext(logger, runID)
//	logger = observability.WithCombinationContext(logger, "ai&health", 2020)
//
// # Metrics
//
//	metrics := observability.NewMetrics("trendseer")
//	metrics.RecordStep("Acquiring publications", elapsed.Seconds(), err)
//
// # Standard Fields
//
//   - run_id: pipeline run identifier
//   - scope: canonical scope keywords ("k1a,k1b;k2a,k2b")
//   - combination: canonical keyword pair ("a&b")
//   - year: publication year
//   - task, task_index, task_count: position in the task chain
//   - source, query: bibliographic source request
package observability
