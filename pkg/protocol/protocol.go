// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol implements the text protocol the model uses to request
// skills. A call is a JSON object embedded between <SKILL_CALL> markers:
//
//	<SKILL_CALL>{"name": "knowledge_base_query", "args": {"query": "Q1 sales"}}</SKILL_CALL>
//
// Results are fed back between <SKILL_RESULT> markers.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	CallOpen    = "<SKILL_CALL>"
	CallClose   = "</SKILL_CALL>"
	ResultOpen  = "<SKILL_RESULT>"
	ResultClose = "</SKILL_RESULT>"
)

// Status reports the outcome of scanning a model response.
type Status int

const (
	// NoCall means no complete marker pair was found.
	NoCall Status = iota
	// Valid means a well-formed call was extracted.
	Valid
	// Invalid means a marker pair was found but its body is not a valid call.
	Invalid
)

func (s Status) String() string {
	switch s {
	case NoCall:
		return "no_call"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Call is a single skill invocation requested by the model.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Result is the outcome of Parse.
type Result struct {
	Status Status
	Call   Call
	// Raw is the trimmed text between the markers, empty for NoCall.
	Raw string
	// Err describes why the body was rejected when Status is Invalid.
	Err error
}

var (
	errEmptyName    = errors.New("call name is required")
	errArgsType     = errors.New("call args must be an object")
	errTrailingData = errors.New("decode call: extra data after object")
)

// Parse scans text for the first <SKILL_CALL>...</SKILL_CALL> pair.
// Only the first pair is honored; later pairs are ignored. An opening marker
// without a matching close counts as NoCall.
func Parse(text string) Result {
	start := strings.Index(text, CallOpen)
	if start < 0 {
		return Result{Status: NoCall}
	}
	body := text[start+len(CallOpen):]
	end := strings.Index(body, CallClose)
	if end < 0 {
		return Result{Status: NoCall}
	}
	raw := strings.TrimSpace(body[:end])

	call, err := decodeCall(raw)
	if err != nil {
		return Result{Status: Invalid, Raw: raw, Err: err}
	}
	return Result{Status: Valid, Call: call, Raw: raw}
}

// ContainsCall reports whether text carries an opening call marker.
func ContainsCall(text string) bool {
	return strings.Contains(text, CallOpen)
}

func decodeCall(raw string) (Call, error) {
	var envelope struct {
		Name *string         `json:"name"`
		Args json.RawMessage `json:"args"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return Call{}, fmt.Errorf("decode call: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Call{}, errTrailingData
	}
	if envelope.Name == nil || strings.TrimSpace(*envelope.Name) == "" {
		return Call{}, errEmptyName
	}

	args := map[string]any{}
	trimmed := bytes.TrimSpace(envelope.Args)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return Call{}, errArgsType
		}
		argDec := json.NewDecoder(bytes.NewReader(trimmed))
		argDec.UseNumber()
		if err := argDec.Decode(&args); err != nil {
			return Call{}, fmt.Errorf("decode args: %w", err)
		}
	}
	return Call{Name: strings.TrimSpace(*envelope.Name), Args: args}, nil
}

// FormatCall renders a call in wire form.
func FormatCall(name string, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(Call{Name: name, Args: args})
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"name":%q,"args":{}}`, name))
	}
	return CallOpen + string(payload) + CallClose
}

// WrapResult renders a skill result in wire form.
func WrapResult(result string) string {
	return ResultOpen + result + ResultClose
}

// Fingerprint returns a stable key for a call, used to detect repeats.
// encoding/json sorts map keys, so equal argument sets render identically.
func (c Call) Fingerprint() string {
	payload, err := json.Marshal(c.Args)
	if err != nil {
		return c.Name
	}
	return c.Name + "|" + string(payload)
}
