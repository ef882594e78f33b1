// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "clean object",
			input: `{"is_complete": true, "confidence": 0.9}`,
			want:  `{"is_complete": true, "confidence": 0.9}`,
		},
		{
			name:  "surrounding whitespace",
			input: "  \n\t{\"level\": \"simple\"}\n  ",
			want:  `{"level": "simple"}`,
		},
		{
			name:  "json code fence",
			input: "```json\n{\"level\": \"complex\", \"confidence\": 0.8}\n```",
			want:  `{"level": "complex", "confidence": 0.8}`,
		},
		{
			name:  "bare code fence",
			input: "```\n{\"level\": \"medium\"}\n```",
			want:  `{"level": "medium"}`,
		},
		{
			name:  "uppercase fence tag",
			input: "```JSON\n{\"ok\": true}\n```",
			want:  `{"ok": true}`,
		},
		{
			name:  "preamble prose",
			input: `Here is the analysis you asked for: {"level": "simple", "confidence": 0.95}`,
			want:  `{"level": "simple", "confidence": 0.95}`,
		},
		{
			name:  "preamble and postamble",
			input: "Sure!\n{\"is_complete\": false}\nLet me know if you need more.",
			want:  `{"is_complete": false}`,
		},
		{
			name:  "braces inside string values",
			input: `{"reasoning": "the map {x: y} is incomplete", "score": 0.4}`,
			want:  `{"reasoning": "the map {x: y} is incomplete", "score": 0.4}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"rationale": "user said \"compare\" twice"}`,
			want:  `{"rationale": "user said \"compare\" twice"}`,
		},
		{
			name:  "nested objects",
			input: `{"outer": {"inner": {"deep": 1}}}`,
			want:  `{"outer": {"inner": {"deep": 1}}}`,
		},
		{
			name:  "top-level array",
			input: "The plan:\n[\"step one\", \"step two\"]",
			want:  `["step one", "step two"]`,
		},
		{
			name:  "array of objects",
			input: `[{"description": "a"}, {"description": "b"}]`,
			want:  `[{"description": "a"}, {"description": "b"}]`,
		},
		{
			name:  "unterminated fence",
			input: "```json\n{\"level\": \"medium\"}",
			want:  `{"level": "medium"}`,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrNoJSON,
		},
		{
			name:    "whitespace only",
			input:   "   \n\t  ",
			wantErr: ErrNoJSON,
		},
		{
			name:    "no json at all",
			input:   "I could not produce a structured answer.",
			wantErr: ErrNoJSON,
		},
		{
			name:    "unquoted keys",
			input:   `{is_complete: true}`,
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "truncated object",
			input:   `{"is_complete": true, "confidence":`,
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "unterminated string",
			input:   `{"reasoning": "never closed`,
			wantErr: ErrMalformedJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ExtractJSON() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONInto(t *testing.T) {
	var parsed struct {
		Level      string  `json:"level"`
		Confidence float64 `json:"confidence"`
	}
	input := "Analysis complete.\n```json\n{\"level\": \"complex\", \"confidence\": 0.85}\n```"
	if err := ExtractJSONInto(input, &parsed); err != nil {
		t.Fatalf("ExtractJSONInto() error: %v", err)
	}
	if parsed.Level != "complex" {
		t.Errorf("Level = %q, want %q", parsed.Level, "complex")
	}
	if parsed.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", parsed.Confidence)
	}

	if err := ExtractJSONInto("no structure here", &parsed); !errors.Is(err, ErrNoJSON) {
		t.Errorf("ExtractJSONInto() error = %v, want ErrNoJSON", err)
	}
}
