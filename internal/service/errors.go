package service

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrNotApproved      = errors.New("workflow not approved")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrRunNotFound      = errors.New("run not found")
)
