package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/committee/internal/dataflows"
	"github.com/quorumlabs/committee/internal/memory"
	"github.com/quorumlabs/committee/internal/models"
	"github.com/quorumlabs/committee/internal/retrieval"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func healthyFundamentals() dataflows.Fundamentals {
	return dataflows.Fundamentals{
		Ticker:          "AAPL",
		MarketCap:       decimal.New(28, 11),
		PERatio:         12,
		PBRatio:         2,
		DebtToEquity:    0.5,
		ReturnOnEquity:  0.25,
		RevenueGrowth:   0.08,
		EarningsGrowth:  0.10,
		FreeCashFlow:    decimal.New(9, 10),
		GrossMargin:     0.45,
		OperatingMargin: 0.30,
		CurrentRatio:    1.4,
		Beta:            0.9,
		AccrualRatio:    0.02,
	}
}

func testDeps(fund dataflows.Fundamentals) Deps {
	provider := dataflows.NewStaticProvider().
		SetJSON(dataflows.ResourceMarketData, dataflows.Quote{Ticker: fund.Ticker, Price: decimal.New(18744, -2)}).
		SetJSON(dataflows.ResourceFundamentals, fund).
		SetJSON(dataflows.ResourceSentiment, []string{"headline"})
	return Deps{
		Memory:    memory.NewStore(memory.Config{}, quietLog()),
		Retrieval: retrieval.NewStatic(retrieval.Framework{ID: "dcf", Name: "Discounted Cash Flow", Content: "AAPL value", Tags: []string{"value"}}),
		Provider:  provider,
		Log:       quietLog(),
	}
}

func task() Task {
	return Task{
		Subject:     models.Subject{Ticker: "AAPL", AssetType: models.AssetListed},
		Description: "full committee analysis",
		Round:       0,
	}
}

func TestAnalyzeReturnsCompletePosition(t *testing.T) {
	reg := NewRegistry(testDeps(healthyFundamentals()))
	agent, err := reg.Get(models.RoleValueInvesting)
	require.NoError(t, err)

	pos := agent.Analyze(context.Background(), task())
	assert.Equal(t, "value_investing", pos.AgentID)
	assert.Equal(t, models.RoleValueInvesting, pos.Role)
	assert.NotEmpty(t, pos.Rationale)
	assert.Greater(t, pos.Confidence, 0.0)
	assert.LessOrEqual(t, pos.Confidence, 1.0)
	assert.Contains(t, pos.FrameworksUsed, "Discounted Cash Flow")
}

func TestAnalyzeFailedScoringFallsBackToHold(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	boom := errors.New("model unavailable")
	agent := newCommitteeAgent(models.RoleValueInvesting, func(Evidence) (assessment, error) {
		return assessment{}, boom
	}, deps)

	pos := agent.Analyze(context.Background(), task())
	assert.Equal(t, models.StanceHold, pos.Stance)
	assert.Zero(t, pos.Confidence)
	require.NotEmpty(t, pos.Rationale)
	assert.Contains(t, pos.Rationale[0], "model unavailable")
}

func TestAnalyzeMissingFundamentalsFallsBackToHold(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	deps.Provider = dataflows.NewStaticProvider() // every leg fails

	reg := NewRegistry(deps)
	agent, err := reg.Get(models.RoleGrowthVC)
	require.NoError(t, err)

	pos := agent.Analyze(context.Background(), task())
	assert.Equal(t, models.StanceHold, pos.Stance)
	assert.Zero(t, pos.Confidence)
}

func TestAnalyzeRecordsMemory(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	reg := NewRegistry(deps)
	agent, err := reg.Get(models.RoleRiskManagement)
	require.NoError(t, err)

	agent.Analyze(context.Background(), task())

	recalled := deps.Memory.Recall("risk_management", memory.Query{Tags: []string{"AAPL"}}, 5)
	require.Len(t, recalled, 1)
	assert.Contains(t, recalled[0].Content, "AAPL")
}

func TestAnalyzeChallengeReducesConfidence(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	reg := NewRegistry(deps)
	agent, err := reg.Get(models.RoleValueInvesting)
	require.NoError(t, err)

	agent.Analyze(context.Background(), task()) // warm memory so recall evidence is stable
	base := agent.Analyze(context.Background(), task())

	challenged := task()
	challenged.Round = 1
	challenged.Challenges = []models.Challenge{{
		ChallengerID: "risk_management",
		TargetID:     "value_investing",
		Claim:        "margin of safety ignores leverage",
	}}
	revised := agent.Analyze(context.Background(), challenged)

	assert.Less(t, revised.Confidence, base.Confidence)
	assert.Contains(t, revised.Rationale[len(revised.Rationale)-1], "reconsidered under challenge")
}

func TestAnalyzeRepeatedChallengesModerateStance(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	reg := NewRegistry(deps)
	agent, err := reg.Get(models.RoleValueInvesting)
	require.NoError(t, err)

	base := agent.Analyze(context.Background(), task())
	require.NotEqual(t, models.StanceHold, base.Stance)

	challenged := task()
	challenged.Round = 1
	challenged.Challenges = []models.Challenge{
		{ChallengerID: "risk_management", TargetID: "value_investing", Claim: "leverage"},
		{ChallengerID: "financial_forensics", TargetID: "value_investing", Claim: "accruals"},
	}
	revised := agent.Analyze(context.Background(), challenged)

	assert.Equal(t, 1, base.Stance.StepsFrom(revised.Stance))
}

func TestAnalyzeChallengeForOtherAgentIgnored(t *testing.T) {
	deps := testDeps(healthyFundamentals())
	reg := NewRegistry(deps)
	agent, err := reg.Get(models.RoleValueInvesting)
	require.NoError(t, err)

	agent.Analyze(context.Background(), task()) // warm memory so recall evidence is stable
	base := agent.Analyze(context.Background(), task())

	other := task()
	other.Round = 1
	other.Challenges = []models.Challenge{{
		ChallengerID: "risk_management",
		TargetID:     "growth_vc",
		Claim:        "not for us",
	}}
	revised := agent.Analyze(context.Background(), other)
	assert.Equal(t, base.Stance, revised.Stance)
	assert.InDelta(t, base.Confidence, revised.Confidence, 1e-9)
}

func TestForensicStrategyAuditFlags(t *testing.T) {
	fund := healthyFundamentals()
	fund.AuditFlags = []string{"going concern qualification"}

	reg := NewRegistry(testDeps(fund))
	agent, err := reg.Get(models.RoleFinancialForensics)
	require.NoError(t, err)

	pos := agent.Analyze(context.Background(), task())
	assert.Equal(t, models.StanceStrongSell, pos.Stance)
	assert.NotEmpty(t, pos.Concerns)
}

func TestRiskStrategyIlliquidAddsConcern(t *testing.T) {
	fund := healthyFundamentals()
	fund.Beta = 1.8
	fund.DebtToEquity = 2.5

	reg := NewRegistry(testDeps(fund))
	agent, err := reg.Get(models.RoleRiskManagement)
	require.NoError(t, err)

	illiquid := task()
	illiquid.Subject.AssetType = models.AssetIlliquid

	pos := agent.Analyze(context.Background(), illiquid)
	assert.Equal(t, models.StanceStrongSell, pos.Stance)
}

func TestRegistryOrderAndSubset(t *testing.T) {
	reg := NewRegistry(testDeps(healthyFundamentals()))

	all := reg.All()
	require.Len(t, all, 5)
	for i, role := range models.CommitteeRoles {
		assert.Equal(t, role, all[i].Role())
	}

	subset, err := reg.Subset([]models.AgentRole{models.RoleFinancialForensics, models.RoleValueInvesting})
	require.NoError(t, err)
	require.Len(t, subset, 2)
	assert.Equal(t, models.RoleValueInvesting, subset[0].Role(), "subset keeps priority order")

	_, err = reg.Subset([]models.AgentRole{"astrology"})
	assert.Error(t, err)
}
