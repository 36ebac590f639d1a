// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mentat-ai/mentat/pkg/errors"
)

// ErrorMetrics counts errors and recoveries by code and component.
type ErrorMetrics struct {
	errorCounter    metric.Int64Counter
	recoveryCounter metric.Int64Counter
}

// NewErrorMetrics creates error metrics on the global meter provider.
func NewErrorMetrics(ctx context.Context) (*ErrorMetrics, error) {
	return NewErrorMetricsWithMeter(otel.Meter("mentat/errors"))
}

// NewErrorMetricsWithMeter creates error metrics on meter.
func NewErrorMetricsWithMeter(meter metric.Meter) (*ErrorMetrics, error) {
	errorCounter, err := meter.Int64Counter(
		"mentat.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"mentat.errors.recovered",
		metric.WithDescription("Errors turned into transcript text by code"),
	)
	if err != nil {
		return nil, err
	}

	return &ErrorMetrics{
		errorCounter:    errorCounter,
		recoveryCounter: recoveryCounter,
	}, nil
}

// RecordErrorMetric increments the error counter for err's code.
func (em *ErrorMetrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	code, recoverable := "UNKNOWN", "unknown"
	var me *errors.MentatError
	if stderrors.As(err, &me) {
		code = string(me.Code)
		recoverable = me.RecoverableString()
	}
	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", code),
			attribute.String("component", component),
			attribute.String("recoverable", recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter for code.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(code)),
		),
	)
}

// AgentMetrics tracks runs, turns and run latency.
type AgentMetrics struct {
	runs      metric.Int64Counter
	turns     metric.Int64Counter
	latencyMs metric.Float64Histogram
}

// NewAgentMetrics creates agent metrics on meter.
func NewAgentMetrics(meter metric.Meter) (*AgentMetrics, error) {
	runs, err := meter.Int64Counter(
		"mentat.agent.runs",
		metric.WithDescription("Agent runs by outcome"),
	)
	if err != nil {
		return nil, err
	}
	turns, err := meter.Int64Counter(
		"mentat.agent.turns",
		metric.WithDescription("Model round-trips that consumed a turn, by call status"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"mentat.agent.run.latency_ms",
		metric.WithDescription("Agent run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &AgentMetrics{runs: runs, turns: turns, latencyMs: latency}, nil
}

// RecordTurn counts one consumed turn.
func (am *AgentMetrics) RecordTurn(ctx context.Context, callStatus string) {
	if am == nil {
		return
	}
	am.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("call.status", callStatus)))
}

// RecordRun records a finished run.
func (am *AgentMetrics) RecordRun(ctx context.Context, outcome string, elapsed time.Duration) {
	if am == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	am.runs.Add(ctx, 1, attrs)
	am.latencyMs.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
