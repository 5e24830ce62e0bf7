// Package agentrepo is the read-mostly agent lookup the orchestrator core
// depends on (spec.md §1, §4.4): "a simple read-mostly lookup of agent
// records by ID; the core only consumes GetAgent(id) -> Agent | NotFound."
// This package lives outside the core's size budget but is required to run
// the reference binary against a real backing store.
package agentrepo

import (
	"context"
	"errors"

	"github.com/kdlbs/agentorc/internal/agentmodel"
)

// ErrAgentNotFound is returned by GetAgent when no row matches the ID.
var ErrAgentNotFound = errors.New("agentrepo: agent not found")

// Repository is the agent-record store (lookup, save and listing); the
// orchestrator core itself only ever calls GetAgent, and no HTTP handler in
// this module calls Save or List.
type Repository interface {
	GetAgent(ctx context.Context, id string) (*agentmodel.Agent, error)
	Save(ctx context.Context, agent *agentmodel.Agent) error
	List(ctx context.Context) ([]*agentmodel.Agent, error)
	Close() error
}
