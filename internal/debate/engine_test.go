package debate

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/committee/internal/agents"
	"github.com/quorumlabs/committee/internal/models"
)

// stubAgent returns scripted positions: the opening stance, then one revised
// stance per rebuttal round.
type stubAgent struct {
	id       string
	role     models.AgentRole
	opening  models.Position
	revised  []models.Position
	mu       sync.Mutex
	rebutted int
}

func (s *stubAgent) ID() string             { return s.id }
func (s *stubAgent) Role() models.AgentRole { return s.role }

func (s *stubAgent) Analyze(ctx context.Context, task agents.Task) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos models.Position
	if s.rebutted < len(s.revised) {
		pos = s.revised[s.rebutted]
	} else if len(s.revised) > 0 {
		pos = s.revised[len(s.revised)-1]
	} else {
		pos = s.opening
	}
	s.rebutted++
	pos.AgentID = s.id
	pos.Role = s.role
	pos.Round = task.Round
	return pos
}

func position(id string, stance models.Stance, confidence float64) models.Position {
	return models.Position{
		AgentID:    id,
		Stance:     stance,
		Confidence: confidence,
	}
}

func stub(id string, opening models.Position, revised ...models.Position) *stubAgent {
	opening.AgentID = id
	return &stubAgent{id: id, opening: opening, revised: revised}
}

func newTestEngine(cfg Config, opts ...Option) *Engine {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewEngine(cfg, log, opts...)
}

func openingFrom(participants []agents.Agent) map[string]models.Position {
	out := make(map[string]models.Position, len(participants))
	for _, a := range participants {
		s := a.(*stubAgent)
		out[s.id] = s.opening
	}
	return out
}

func TestSynthesizeWeightedVote(t *testing.T) {
	positions := map[string]models.Position{
		"value_investing":      position("value_investing", models.StanceBuy, 0.8),
		"growth_vc":            position("growth_vc", models.StanceBuy, 0.6),
		"risk_management":      position("risk_management", models.StanceHold, 0.5),
		"industry_competitive": position("industry_competitive", models.StanceSell, 0.9),
		"financial_forensics":  position("financial_forensics", models.StanceBuy, 0.7),
	}
	priority := []string{"value_investing", "growth_vc", "risk_management", "industry_competitive", "financial_forensics"}

	consensus := Synthesize(positions, priority, models.ConsensusWeightedVote)
	require.NotNil(t, consensus)

	// buy carries 2.1 of summed confidence against 0.9 sell and 0.5 hold.
	assert.Equal(t, models.StanceBuy, consensus.FinalStance)
	assert.InDelta(t, 0.7, consensus.Confidence, 1e-9)
	assert.Equal(t, []string{"industry_competitive", "risk_management"}, consensus.Dissent)
	assert.Len(t, consensus.VoteWeights, 5)
}

func TestSynthesizeTieByVoteCount(t *testing.T) {
	// buy and sell both sum to 1.0, but buy has two votes behind it.
	positions := map[string]models.Position{
		"a": position("a", models.StanceBuy, 0.5),
		"b": position("b", models.StanceBuy, 0.5),
		"c": position("c", models.StanceSell, 1.0),
	}
	consensus := Synthesize(positions, []string{"a", "b", "c"}, models.ConsensusWeightedVote)
	require.NotNil(t, consensus)
	assert.Equal(t, models.StanceBuy, consensus.FinalStance)
}

func TestSynthesizeTieByPriorityOrder(t *testing.T) {
	// Equal weight, equal vote count: the first agent in priority order wins.
	positions := map[string]models.Position{
		"a": position("a", models.StanceSell, 0.6),
		"b": position("b", models.StanceBuy, 0.6),
	}
	consensus := Synthesize(positions, []string{"b", "a"}, models.ConsensusWeightedVote)
	require.NotNil(t, consensus)
	assert.Equal(t, models.StanceBuy, consensus.FinalStance)

	flipped := Synthesize(positions, []string{"a", "b"}, models.ConsensusWeightedVote)
	require.NotNil(t, flipped)
	assert.Equal(t, models.StanceSell, flipped.FinalStance)
}

func TestSynthesizeDeterministic(t *testing.T) {
	positions := map[string]models.Position{
		"a": position("a", models.StanceBuy, 0.8),
		"b": position("b", models.StanceSell, 0.8),
		"c": position("c", models.StanceHold, 0.4),
	}
	priority := []string{"a", "b", "c"}

	first := Synthesize(positions, priority, models.ConsensusWeightedVote)
	for i := 0; i < 20; i++ {
		again := Synthesize(positions, priority, models.ConsensusWeightedVote)
		assert.Equal(t, first, again)
	}
}

func TestSynthesizeCommonItems(t *testing.T) {
	pa := position("a", models.StanceBuy, 0.8)
	pa.Concerns = []string{"leverage", "valuation"}
	pb := position("b", models.StanceBuy, 0.7)
	pb.Concerns = []string{"leverage"}
	pb.Opportunities = []string{"buybacks"}
	pc := position("c", models.StanceHold, 0.5)
	pc.Opportunities = []string{"buybacks"}

	consensus := Synthesize(map[string]models.Position{"a": pa, "b": pb, "c": pc}, []string{"a", "b", "c"}, models.ConsensusWeightedVote)
	require.NotNil(t, consensus)
	assert.Equal(t, []string{"leverage"}, consensus.CommonConcerns)
	assert.Equal(t, []string{"buybacks"}, consensus.CommonOpportunities)
}

func TestAgreement(t *testing.T) {
	unanimous := map[string]models.Position{
		"a": position("a", models.StanceBuy, 0.9),
		"b": position("b", models.StanceBuy, 0.5),
	}
	assert.InDelta(t, 1.0, Agreement(unanimous), 1e-9)

	split := map[string]models.Position{
		"a": position("a", models.StanceBuy, 0.6),
		"b": position("b", models.StanceSell, 0.4),
	}
	assert.InDelta(t, 0.6, Agreement(split), 1e-9)

	assert.Zero(t, Agreement(nil))
}

func TestResolveEarlyOnOpeningAgreement(t *testing.T) {
	participants := []agents.Agent{
		stub("a", position("a", models.StanceBuy, 0.9)),
		stub("b", position("b", models.StanceBuy, 0.8)),
		stub("c", position("c", models.StanceHold, 0.2)),
	}
	engine := newTestEngine(Config{})

	consensus, rounds, err := engine.Resolve(context.Background(), models.Subject{Ticker: "AAPL"}, participants, openingFrom(participants))
	require.NoError(t, err)
	require.NotNil(t, consensus)

	assert.Equal(t, models.StanceBuy, consensus.FinalStance)
	assert.Zero(t, consensus.RoundsUsed)
	assert.Len(t, rounds, 1, "only the opening round is recorded")
}

func TestResolveRunsChallengeRound(t *testing.T) {
	// strong_buy vs strong_sell forces challenges; the challenged sides
	// converge to hold on rebuttal.
	participants := []agents.Agent{
		stub("a", position("a", models.StanceStrongBuy, 0.8), position("a", models.StanceHold, 0.6)),
		stub("b", position("b", models.StanceStrongSell, 0.8), position("b", models.StanceHold, 0.6)),
		stub("c", position("c", models.StanceHold, 0.5)),
	}
	engine := newTestEngine(Config{})

	consensus, rounds, err := engine.Resolve(context.Background(), models.Subject{Ticker: "TSLA"}, participants, openingFrom(participants))
	require.NoError(t, err)
	require.NotNil(t, consensus)

	assert.Equal(t, models.StanceHold, consensus.FinalStance)
	assert.Equal(t, 1, consensus.RoundsUsed)
	require.Len(t, rounds, 2)
	assert.NotEmpty(t, rounds[1].Challenges)
	assert.NotEmpty(t, rounds[1].Rebuttals)
	assert.Greater(t, rounds[1].Agreement, rounds[0].Agreement)
}

func TestResolveHardStopAtRoundCap(t *testing.T) {
	// Positions never converge; every rebuttal repeats the opening stance.
	participants := []agents.Agent{
		stub("a", position("a", models.StanceStrongBuy, 0.9), position("a", models.StanceStrongBuy, 0.9)),
		stub("b", position("b", models.StanceStrongSell, 0.9), position("b", models.StanceStrongSell, 0.9)),
	}
	engine := newTestEngine(Config{MaxRounds: 3})

	consensus, rounds, err := engine.Resolve(context.Background(), models.Subject{Ticker: "GME"}, participants, openingFrom(participants))
	require.NoError(t, err)
	require.NotNil(t, consensus, "the engine must resolve even without agreement")

	assert.Equal(t, 3, consensus.RoundsUsed)
	assert.Len(t, rounds, 4)
	assert.NotEmpty(t, consensus.Dissent)
}

func TestResolveNoChallengesWhenStancesAdjacent(t *testing.T) {
	// One step apart generates no challenge even though agreement is low.
	participants := []agents.Agent{
		stub("a", position("a", models.StanceBuy, 0.5)),
		stub("b", position("b", models.StanceHold, 0.5)),
	}
	engine := newTestEngine(Config{})

	consensus, rounds, err := engine.Resolve(context.Background(), models.Subject{Ticker: "KO"}, participants, openingFrom(participants))
	require.NoError(t, err)
	require.NotNil(t, consensus)
	assert.Len(t, rounds, 1)
	assert.Zero(t, consensus.RoundsUsed)
}

func TestResolveUnknownParticipant(t *testing.T) {
	participants := []agents.Agent{
		stub("a", position("a", models.StanceBuy, 0.5)),
	}
	opening := map[string]models.Position{
		"a":        position("a", models.StanceBuy, 0.5),
		"stranger": position("stranger", models.StanceSell, 0.5),
	}
	engine := newTestEngine(Config{})

	_, _, err := engine.Resolve(context.Background(), models.Subject{Ticker: "AAPL"}, participants, opening)
	assert.Error(t, err)
}

func TestResolveCancelledContext(t *testing.T) {
	participants := []agents.Agent{
		stub("a", position("a", models.StanceStrongBuy, 0.9)),
		stub("b", position("b", models.StanceStrongSell, 0.9)),
	}
	engine := newTestEngine(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := engine.Resolve(ctx, models.Subject{Ticker: "AAPL"}, participants, openingFrom(participants))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChallengeGeneration(t *testing.T) {
	engine := newTestEngine(Config{})

	positions := map[string]models.Position{
		"a": position("a", models.StanceStrongBuy, 0.9),
		"b": position("b", models.StanceHold, 0.5),
		"c": position("c", models.StanceBuy, 0.7),
	}
	challenges := engine.challenge(positions)

	// Only a (strong_buy) vs b (hold) is more than one step apart, and a is
	// the more confident side.
	require.Len(t, challenges, 1)
	assert.Equal(t, "a", challenges[0].ChallengerID)
	assert.Equal(t, "b", challenges[0].TargetID)
	assert.NotEmpty(t, challenges[0].Claim)
}

func TestChallengeEqualConfidenceBothWays(t *testing.T) {
	engine := newTestEngine(Config{})

	positions := map[string]models.Position{
		"a": position("a", models.StanceBuy, 0.7),
		"b": position("b", models.StanceSell, 0.7),
	}
	challenges := engine.challenge(positions)
	assert.Len(t, challenges, 2)
}
