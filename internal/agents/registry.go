package agents

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/committee/internal/models"
)

var tenBillion = decimal.New(10, 9)

var strategies = map[models.AgentRole]strategyFunc{
	models.RoleValueInvesting:      valueStrategy,
	models.RoleGrowthVC:            growthStrategy,
	models.RoleRiskManagement:      riskStrategy,
	models.RoleIndustryCompetitive: competitiveStrategy,
	models.RoleFinancialForensics:  forensicStrategy,
}

// Registry holds the constructed committee in fixed priority order. The
// order doubles as the deterministic tie-break for consensus voting.
type Registry struct {
	agents []Agent
	byRole map[models.AgentRole]Agent
}

// NewRegistry constructs the full committee with shared dependencies.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{byRole: make(map[models.AgentRole]Agent, len(models.CommitteeRoles))}
	for _, role := range models.CommitteeRoles {
		agent := newCommitteeAgent(role, strategies[role], deps)
		r.agents = append(r.agents, agent)
		r.byRole[role] = agent
	}
	return r
}

// All returns the committee in priority order.
func (r *Registry) All() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Get returns the agent for a role.
func (r *Registry) Get(role models.AgentRole) (Agent, error) {
	agent, ok := r.byRole[role]
	if !ok {
		return nil, fmt.Errorf("agents: unknown role %q", role)
	}
	return agent, nil
}

// Subset returns the agents for the requested roles, in priority order
// regardless of the order requested.
func (r *Registry) Subset(roles []models.AgentRole) ([]Agent, error) {
	want := make(map[models.AgentRole]bool, len(roles))
	for _, role := range roles {
		if !models.ValidRole(role) {
			return nil, fmt.Errorf("agents: unknown role %q", role)
		}
		want[role] = true
	}
	var out []Agent
	for _, agent := range r.agents {
		if want[agent.Role()] {
			out = append(out, agent)
		}
	}
	return out, nil
}
