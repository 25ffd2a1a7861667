// Package models defines the shared domain types for the investment
// committee: subjects under analysis, agent positions, debate rounds and the
// terminal consensus record.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stance is an agent's categorical recommendation on an ordinal scale.
// The numeric values give the ordinal distance between two stances.
type Stance int

const (
	StanceStrongSell Stance = -2
	StanceSell       Stance = -1
	StanceHold       Stance = 0
	StanceBuy        Stance = 1
	StanceStrongBuy  Stance = 2
)

var stanceNames = map[Stance]string{
	StanceStrongSell: "strong_sell",
	StanceSell:       "sell",
	StanceHold:       "hold",
	StanceBuy:        "buy",
	StanceStrongBuy:  "strong_buy",
}

// String returns the wire name of the stance.
func (s Stance) String() string {
	if name, ok := stanceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stance(%d)", int(s))
}

// StepsFrom returns the absolute ordinal distance to another stance.
func (s Stance) StepsFrom(other Stance) int {
	d := int(s) - int(other)
	if d < 0 {
		d = -d
	}
	return d
}

// ParseStance converts a wire name back into a Stance.
func ParseStance(name string) (Stance, error) {
	for s, n := range stanceNames {
		if n == name {
			return s, nil
		}
	}
	return StanceHold, fmt.Errorf("models: unknown stance %q", name)
}

// MarshalJSON encodes the stance as its wire name.
func (s Stance) MarshalJSON() ([]byte, error) {
	name, ok := stanceNames[s]
	if !ok {
		return nil, fmt.Errorf("models: cannot marshal stance %d", int(s))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a stance from its wire name.
func (s *Stance) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStance(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AgentRole identifies one of the committee's analysis perspectives.
type AgentRole string

const (
	RoleValueInvesting      AgentRole = "value_investing"
	RoleGrowthVC            AgentRole = "growth_vc"
	RoleRiskManagement      AgentRole = "risk_management"
	RoleIndustryCompetitive AgentRole = "industry_competitive"
	RoleFinancialForensics  AgentRole = "financial_forensics"
)

// CommitteeRoles lists every role in fixed priority order. The ordering is
// load-bearing: it is the final tie-break when weighted votes are exactly
// even, so it must be stable across runs.
var CommitteeRoles = []AgentRole{
	RoleValueInvesting,
	RoleGrowthVC,
	RoleRiskManagement,
	RoleIndustryCompetitive,
	RoleFinancialForensics,
}

// ValidRole reports whether the role is a known committee role.
func ValidRole(r AgentRole) bool {
	for _, known := range CommitteeRoles {
		if known == r {
			return true
		}
	}
	return false
}

// AssetType classifies the subject's liquidity profile.
type AssetType string

const (
	AssetListed   AssetType = "listed"
	AssetIlliquid AssetType = "illiquid"
)

// Subject is the entity under analysis. It is immutable once a request
// starts; components receive it by value.
type Subject struct {
	Ticker    string            `json:"ticker"`
	AssetType AssetType         `json:"asset_type"`
	Documents []string          `json:"documents,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Position is one agent's conclusion for one debate round. Prior-round
// positions are retained for audit and never mutated.
type Position struct {
	AgentID           string             `json:"agent_id"`
	Role              AgentRole          `json:"role"`
	Stance            Stance             `json:"stance"`
	Confidence        float64            `json:"confidence"`
	Rationale         []string           `json:"rationale"`
	Concerns          []string           `json:"concerns,omitempty"`
	Opportunities     []string           `json:"opportunities,omitempty"`
	SupportingMetrics map[string]float64 `json:"supporting_metrics,omitempty"`
	FrameworksUsed    []string           `json:"frameworks_used,omitempty"`
	Round             int                `json:"round"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Challenge names a specific conflicting claim between two positions.
type Challenge struct {
	ChallengerID string `json:"challenger_id"`
	TargetID     string `json:"target_id"`
	Claim        string `json:"claim"`
}

// Rebuttal is a challenged agent's recorded response.
type Rebuttal struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// DebateRound captures one append-only round of the debate. The debate's
// history is the ordered sequence of rounds.
type DebateRound struct {
	Number     int                 `json:"number"`
	Positions  map[string]Position `json:"positions"`
	Challenges []Challenge         `json:"challenges,omitempty"`
	Rebuttals  []Rebuttal          `json:"rebuttals,omitempty"`
	Agreement  float64             `json:"agreement"`
	StartedAt  time.Time           `json:"started_at"`
}

// ConsensusMethod identifies how the final recommendation was produced.
type ConsensusMethod string

const (
	ConsensusWeightedVote ConsensusMethod = "weighted_vote"
	ConsensusDirect       ConsensusMethod = "direct"
)

// Consensus is the debate's terminal artifact, produced exactly once per
// debate and immutable thereafter.
type Consensus struct {
	FinalStance         Stance             `json:"final_stance"`
	Confidence          float64            `json:"confidence"`
	Dissent             []string           `json:"dissent,omitempty"`
	VoteWeights         map[string]float64 `json:"vote_weights"`
	RoundsUsed          int                `json:"rounds_used"`
	Method              ConsensusMethod    `json:"method"`
	CommonConcerns      []string           `json:"common_concerns,omitempty"`
	CommonOpportunities []string           `json:"common_opportunities,omitempty"`
}

// AnalysisRequest is the inbound contract from the API layer.
type AnalysisRequest struct {
	Subject        Subject     `json:"subject"`
	RunDebate      bool        `json:"run_debate"`
	MaxRounds      int         `json:"max_rounds,omitempty"`
	RequiredAgents []AgentRole `json:"required_agents,omitempty"`
}

// AnalysisReport bundles everything report rendering needs: the consensus,
// the full round history and the final per-agent positions sorted by agent
// ID.
type AnalysisReport struct {
	RequestID   string        `json:"request_id"`
	Subject     Subject       `json:"subject"`
	Consensus   *Consensus    `json:"consensus"`
	Rounds      []DebateRound `json:"rounds"`
	Positions   []Position    `json:"positions"`
	Degraded    bool          `json:"degraded"`
	Notes       []string      `json:"notes,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}
