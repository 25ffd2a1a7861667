package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStance_String(t *testing.T) {
	tests := []struct {
		stance   Stance
		expected string
	}{
		{StanceStrongSell, "strong_sell"},
		{StanceSell, "sell"},
		{StanceHold, "hold"},
		{StanceBuy, "buy"},
		{StanceStrongBuy, "strong_buy"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.stance.String())
		})
	}
}

func TestStance_StepsFrom(t *testing.T) {
	assert.Equal(t, 0, StanceBuy.StepsFrom(StanceBuy))
	assert.Equal(t, 1, StanceBuy.StepsFrom(StanceStrongBuy))
	assert.Equal(t, 2, StanceBuy.StepsFrom(StanceSell))
	assert.Equal(t, 4, StanceStrongBuy.StepsFrom(StanceStrongSell))
	assert.Equal(t, 4, StanceStrongSell.StepsFrom(StanceStrongBuy))
}

func TestParseStance(t *testing.T) {
	s, err := ParseStance("strong_buy")
	require.NoError(t, err)
	assert.Equal(t, StanceStrongBuy, s)

	_, err = ParseStance("moon")
	assert.Error(t, err)
}

func TestStance_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StanceSell)
	require.NoError(t, err)
	assert.Equal(t, `"sell"`, string(data))

	var s Stance
	require.NoError(t, json.Unmarshal([]byte(`"strong_sell"`), &s))
	assert.Equal(t, StanceStrongSell, s)

	assert.Error(t, json.Unmarshal([]byte(`"sideways"`), &s))
}

func TestValidRole(t *testing.T) {
	for _, role := range CommitteeRoles {
		assert.True(t, ValidRole(role), string(role))
	}
	assert.False(t, ValidRole("day_trading"))
}

func TestCommitteeRoles_OrderIsStable(t *testing.T) {
	// The committee ordering doubles as the vote tie-break priority.
	expected := []AgentRole{
		RoleValueInvesting,
		RoleGrowthVC,
		RoleRiskManagement,
		RoleIndustryCompetitive,
		RoleFinancialForensics,
	}
	assert.Equal(t, expected, CommitteeRoles)
}

func TestPosition_JSONStanceEncoding(t *testing.T) {
	p := Position{AgentID: "value_investing", Stance: StanceBuy, Confidence: 0.8}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stance":"buy"`)
}
