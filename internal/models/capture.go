// Package models defines the records exchanged over the API and stored on disk.
package models

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxSessionSteps caps the number of steps accepted in one capture session.
const MaxSessionSteps = 200

// maxIDLen bounds ids used as file names.
const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidID reports whether id is safe to use as a record file name.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	if id == "." || strings.Contains(id, "..") {
		return false
	}
	return idPattern.MatchString(id)
}

// CaptureStep is a single recorded UI interaction.
type CaptureStep struct {
	StepIndex      int     `json:"step_index"`
	URL            string  `json:"url"`
	Action         string  `json:"action"`
	ElementText    *string `json:"element_text,omitempty"`
	FieldLabel     *string `json:"field_label,omitempty"`
	ValueRedacted  *string `json:"value_redacted,omitempty"`
	ScreenshotPath *string `json:"screenshot_path,omitempty"`
	Timestamp      *string `json:"timestamp,omitempty"`
}

// CaptureSession is a recorded sequence of user actions used as inference input.
type CaptureSession struct {
	SessionID string         `json:"session_id"`
	Steps     []CaptureStep  `json:"steps"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the session before it is stored.
func (s CaptureSession) Validate() error {
	if !ValidID(s.SessionID) {
		return &ValidationError{Field: "session_id", Message: fmt.Sprintf("invalid session id %q", s.SessionID)}
	}
	if len(s.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "steps must not be empty"}
	}
	if len(s.Steps) > MaxSessionSteps {
		return &ValidationError{Field: "steps", Message: fmt.Sprintf("steps must have at most %d items", MaxSessionSteps)}
	}
	for i, step := range s.Steps {
		if step.URL == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].url", i), Message: "url is required"}
		}
		if step.Action == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].action", i), Message: "action is required"}
		}
	}
	return nil
}

// StoreSessionResponse is returned after a session is persisted.
type StoreSessionResponse struct {
	SessionID string `json:"session_id"`
	Stored    bool   `json:"stored"`
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
