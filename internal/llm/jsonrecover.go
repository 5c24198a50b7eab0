package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPreviewChars bounds the model output echoed back in error messages.
const MaxPreviewChars = 300

var (
	// ErrNoJSONObject means no balanced {...} span was found.
	ErrNoJSONObject = errors.New("no JSON object found")
	// ErrNotObject means the output parsed as JSON but was not an object.
	ErrNotObject = errors.New("JSON value is not an object")
)

// ParseError is returned when model output cannot be recovered as a JSON object.
// Preview is safe to show to users.
type ParseError struct {
	Preview string
	Reason  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model output (%v): %q", e.Reason, e.Preview)
}

func (e *ParseError) Unwrap() error {
	return e.Reason
}

// NormalizeOutput trims whitespace and strips a surrounding markdown code fence.
func NormalizeOutput(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			// Drop the opening fence line, including any language tag.
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
		s = rest
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractObject returns the substring from the first '{' to its matching '}'.
// Braces inside double-quoted strings are ignored and backslash escapes are honored.
func ExtractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// DecodeObject recovers a JSON object from raw model text and decodes it into v.
// It tries, in order: the raw text, the normalized text, and the first balanced
// object inside the normalized text. Output that is valid JSON but not an
// object, such as an array, fails with ErrNotObject without looking inside it.
// Failures are returned as *ParseError. If an object is found but does not
// fit v, the decode error is returned as is.
func DecodeObject(raw string, v any) error {
	normalized := NormalizeOutput(raw)

	candidates := []string{raw, normalized}
	if extracted, err := ExtractObject(normalized); err == nil {
		candidates = append(candidates, extracted)
	}

	for _, c := range candidates {
		data := []byte(strings.TrimSpace(c))
		if !json.Valid(data) {
			continue
		}
		if data[0] != '{' {
			return &ParseError{Preview: Preview(normalized), Reason: ErrNotObject}
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decode model output: %w", err)
		}
		return nil
	}

	return &ParseError{Preview: Preview(normalized), Reason: ErrNoJSONObject}
}

// Preview truncates s to MaxPreviewChars runes, or returns "(empty)".
func Preview(s string) string {
	if s == "" {
		return "(empty)"
	}
	if utf8.RuneCountInString(s) <= MaxPreviewChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxPreviewChars])
}
