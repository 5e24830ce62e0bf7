package agentmodel

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an Agent record.
type Status string

const (
	StatusCreated  Status = "created"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// ErrAgentNotExecutable is the sentinel for an agent that fails the
// spec.md §3 executability invariant checked by Agent.Executable. No code in
// this module returns it.
var ErrAgentNotExecutable = errors.New("agent is not executable")

// Agent is a record fetched from the repository before execution. The core
// only reads agents; they are created and updated by external collaborators
// (spec.md §1).
type Agent struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	TemplateID      string            `json:"template_id"`
	TemplateVersion string            `json:"template_version"`
	Configuration   AgentConfiguration `json:"configuration"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]any    `json:"metadata"`
}

// Executable reports whether the agent is executable: status must be Active
// and templateID non-empty. Configuration schema compatibility is checked
// separately by the executor's ValidateConfiguration (spec.md §3 invariant).
func (a *Agent) Executable() bool {
	return a.Status == StatusActive && a.TemplateID != ""
}
