// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"

	"github.com/mentat-ai/mentat/pkg/errors"
	"github.com/mentat-ai/mentat/pkg/telemetry"
)

// ErrorMetricsIntegration records agent errors and local recoveries.
type ErrorMetricsIntegration struct {
	metrics *telemetry.ErrorMetrics
	enabled bool
}

var (
	globalErrorMetrics     *ErrorMetricsIntegration
	globalErrorMetricsOnce sync.Once
)

// InitErrorMetrics initializes the global error metrics for agents.
// Initialization failures leave metrics disabled.
func InitErrorMetrics(ctx context.Context) *ErrorMetricsIntegration {
	globalErrorMetricsOnce.Do(func() {
		metrics, err := telemetry.NewErrorMetrics(ctx)
		if err != nil {
			globalErrorMetrics = &ErrorMetricsIntegration{enabled: false}
			return
		}
		globalErrorMetrics = &ErrorMetricsIntegration{
			metrics: metrics,
			enabled: true,
		}
	})
	return globalErrorMetrics
}

// GetErrorMetrics returns the global error metrics integration, or nil if
// InitErrorMetrics was never called.
func GetErrorMetrics() *ErrorMetricsIntegration {
	return globalErrorMetrics
}

// RecordError records an error metric with the error code and component.
func (e *ErrorMetricsIntegration) RecordError(ctx context.Context, err error, component string) {
	if e == nil || !e.enabled || e.metrics == nil {
		return
	}
	e.metrics.RecordErrorMetric(ctx, err, component)
}

// RecordRecovery records a failure that was turned into transcript text.
func (e *ErrorMetricsIntegration) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if e == nil || !e.enabled || e.metrics == nil {
		return
	}
	e.metrics.RecordRecovery(ctx, code)
}

// WrapUpstreamError wraps a model gateway failure.
func WrapUpstreamError(err error, model string) *errors.MentatError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeUpstream, "model gateway call failed", err).
		WithContext("model", model).
		WithAttribute("gen_ai.request.model", model).
		WithRecoverable(false)
}

// WrapSkillError wraps a skill handler failure.
func WrapSkillError(err error, skillName string) *errors.MentatError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeSkillFailure, "skill execution failed", err).
		WithContext("skill_name", skillName).
		WithAttribute(telemetry.AttrSkillName, skillName).
		WithRecoverable(true)
}

// WrapRetrievalError wraps a vector store or embedding failure.
func WrapRetrievalError(err error, operation string) *errors.MentatError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeRetrievalError, "retrieval operation failed", err).
		WithContext("operation", operation).
		WithAttribute("retrieval.operation", operation).
		WithRecoverable(true)
}

// WrapMemoryError wraps a persistence failure.
func WrapMemoryError(err error, operation string) *errors.MentatError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeMemoryError, "memory operation failed", err).
		WithContext("operation", operation).
		WithAttribute("memory.operation", operation).
		WithRecoverable(true)
}

// WrapContextError wraps a caller cancellation observed between turns.
func WrapContextError(err error, turn int) *errors.MentatError {
	if err == nil {
		return nil
	}
	return errors.New(errors.CodeContextLost, "run canceled by caller", err).
		WithContext("turn", turn).
		WithRecoverable(false)
}

// NewMaxTurnsError records that the turn bound was reached.
func NewMaxTurnsError(maxTurns int) *errors.MentatError {
	return errors.New(errors.CodeMaxTurns, "maximum tool usage limit reached", nil).
		WithContext("max_turns", maxTurns).
		WithRecoverable(true)
}

// NewParseError records a malformed skill call body.
func NewParseError(cause error, raw string) *errors.MentatError {
	return errors.New(errors.CodeParseError, "invalid skill call", cause).
		WithContext("raw", telemetry.Truncate(raw, 200)).
		WithRecoverable(true)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.MentatError {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}
