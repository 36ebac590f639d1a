// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides slog configuration and OpenTelemetry
// integration for the agent engine.
package telemetry

import (
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys. LLM keys follow the gen_ai semantic conventions.
const (
	// Run attributes
	AttrAccountID = "mentat.account.id"
	AttrSessionID = "mentat.session.id"
	AttrRunID     = "mentat.run.id"
	AttrMaxTurns  = "mentat.run.max_turns"
	AttrTurns     = "mentat.run.turns"
	AttrOutcome   = "mentat.run.outcome"
	AttrHistory   = "mentat.run.history_len"

	// Turn attributes
	AttrTurn       = "mentat.turn.index"
	AttrCallStatus = "mentat.turn.call_status"

	// Skill attributes
	AttrSkillName   = "mentat.skill.name"
	AttrSkillArgs   = "mentat.skill.arguments"
	AttrSkillResult = "mentat.skill.result"
	AttrSkillChars  = "mentat.skill.result_chars"
	AttrTruncated   = "mentat.skill.truncated"
	AttrRepeated    = "mentat.skill.repeated"

	// Retrieval attributes
	AttrDocumentTitle = "mentat.document.title"
	AttrDocumentScope = "mentat.document.scope"
	AttrChunks        = "mentat.document.chunks"

	// LLM attributes
	AttrLLMModel      = "gen_ai.request.model"
	AttrLLMMessages   = "gen_ai.request.messages"
	AttrLLMDurationMs = "gen_ai.duration_ms"
)

// RunAttributes returns attributes for an Agent.Run span.
func RunAttributes(accountID, sessionID, runID, model string, maxTurns int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAccountID, accountID),
		attribute.String(AttrRunID, runID),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if maxTurns > 0 {
		attrs = append(attrs, attribute.Int(AttrMaxTurns, maxTurns))
	}
	return attrs
}

// TurnAttributes returns attributes for an Agent.Turn span.
func TurnAttributes(turn int, callStatus string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrTurn, turn),
	}
	if callStatus != "" {
		attrs = append(attrs, attribute.String(AttrCallStatus, callStatus))
	}
	return attrs
}

// SkillCallAttributes returns attributes describing a dispatched skill call.
// Arguments and result are truncated to maxLen characters.
func SkillCallAttributes(name, args, result string, maxLen int, truncated bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
		attribute.Int(AttrSkillChars, utf8.RuneCountInString(result)),
		attribute.Bool(AttrTruncated, truncated),
	}
	if args != "" {
		attrs = append(attrs, attribute.String(AttrSkillArgs, Truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrSkillResult, Truncate(result, maxLen)))
	}
	return attrs
}

// LLMAttributes returns attributes for a gateway call.
func LLMAttributes(model string, msgCount int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

// DocumentAttributes returns attributes for ingestion.
func DocumentAttributes(title, scope string, chunks int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrDocumentTitle, Truncate(title, 200)),
		attribute.String(AttrDocumentScope, scope),
	}
	if chunks > 0 {
		attrs = append(attrs, attribute.Int(AttrChunks, chunks))
	}
	return attrs
}

// Truncate shortens s to maxLen characters followed by "...". A non-positive
// maxLen means 500.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 500
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
