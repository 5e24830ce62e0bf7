// Package agentmodel holds the value types the orchestrator core consumes:
// Agent records, their configuration, and chat messages (spec.md §3).
package agentmodel

import "github.com/google/uuid"

// NewID generates a fresh opaque identifier. Every *ID field in spec.md §3
// (AgentID, TaskID, MessageID, ContextID, CorrelationID) is an opaque string
// generated this way unless the caller supplies one.
func NewID() string {
	return uuid.New().String()
}
