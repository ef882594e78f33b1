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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// JSON Extraction
// ============================================================================
//
// Models asked for structured output rarely return bare JSON. They wrap it
// in markdown fences, prepend "Here is the analysis:", or append a closing
// remark. ExtractJSON recovers the first complete JSON value from such text
// so callers can unmarshal it without caring how the model dressed it up.

var (
	// ErrNoJSON indicates the text contains no JSON value at all.
	ErrNoJSON = errors.New("no JSON value found")

	// ErrMalformedJSON indicates a JSON-looking span was found but does
	// not parse.
	ErrMalformedJSON = errors.New("malformed JSON")
)

// ExtractJSON returns the first complete JSON object or array embedded in
// text. It strips markdown code fences, skips prose before and after the
// value, and respects braces inside string literals and escaped quotes.
//
// # Inputs
//
//   - text: raw model output.
//
// # Outputs
//
//   - string: the exact JSON substring, valid per encoding/json.
//   - error: ErrNoJSON when nothing JSON-like exists, ErrMalformedJSON when
//     the candidate span does not parse or is truncated.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty input", ErrNoJSON)
	}

	// Prefer fenced blocks when present. A model that bothers with
	// ```json fences almost always puts the payload inside them.
	if inner, ok := stripCodeFence(text); ok {
		if out, err := scanJSON(inner); err == nil {
			return out, nil
		}
	}

	return scanJSON(text)
}

// ExtractJSONInto extracts the first JSON value from text and unmarshals it
// into v.
func ExtractJSONInto(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

// stripCodeFence returns the content of the first fenced code block, with
// an optional language tag removed. ok is false when text has no fence.
func stripCodeFence(text string) (inner string, ok bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]

	// Drop the language tag ("json", "JSON") up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}

	end := strings.Index(rest, "```")
	if end < 0 {
		// Unterminated fence. Scan what follows the opener anyway.
		return rest, true
	}
	return rest[:end], true
}

// scanJSON finds the first '{' or '[' and walks to its matching close,
// tracking string literals and escapes so braces inside values do not end
// the scan early. The span is validated before it is returned.
func scanJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", fmt.Errorf("%w: no opening brace or bracket", ErrNoJSON)
	}

	opener := text[start]
	var closer byte = '}'
	if opener == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Brackets inside string literals are payload.
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", fmt.Errorf("%w: %s", ErrMalformedJSON, previewForError(candidate))
				}
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: unterminated value starting at offset %d", ErrMalformedJSON, start)
}

// previewForError truncates a candidate span for error messages.
func previewForError(s string) string {
	const max = 60
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
