package agents

import (
	"errors"
	"fmt"

	"github.com/quorumlabs/committee/internal/dataflows"
	"github.com/quorumlabs/committee/internal/models"
)

// errInsufficientData aborts scoring when a strategy has nothing to score.
var errInsufficientData = errors.New("insufficient fundamental data")

func fundamentals(ev Evidence) (*dataflows.Fundamentals, error) {
	if ev.Snapshot == nil || ev.Snapshot.Fundamentals == nil {
		return nil, errInsufficientData
	}
	return ev.Snapshot.Fundamentals, nil
}

// baseConfidence starts at 0.5 and rises with evidence availability.
func baseConfidence(ev Evidence) float64 {
	confidence := 0.5
	if ev.Snapshot != nil && ev.Snapshot.Quote != nil {
		confidence += 0.1
	}
	if len(ev.Frameworks) > 0 {
		confidence += 0.15
	}
	if len(ev.Recalled) > 0 {
		confidence += 0.1
	}
	return confidence
}

// valueStrategy looks for a margin of safety: cheap multiples backed by a
// profitability moat.
func valueStrategy(ev Evidence) (assessment, error) {
	f, err := fundamentals(ev)
	if err != nil {
		return assessment{}, err
	}

	// Cheapness score from earnings and book multiples, roughly the margin
	// of safety: positive means priced below fair multiples.
	margin := 0.0
	if f.PERatio > 0 {
		margin += (18 - f.PERatio) / 18 * 0.6
	}
	if f.PBRatio > 0 {
		margin += (3 - f.PBRatio) / 3 * 0.4
	}
	wideMoat := f.ReturnOnEquity > 0.15 && f.OperatingMargin > 0.2

	v := assessment{
		confidence: baseConfidence(ev) + 0.15,
		metrics: map[string]float64{
			"margin_of_safety": margin,
			"pe_ratio":         f.PERatio,
			"pb_ratio":         f.PBRatio,
			"return_on_equity": f.ReturnOnEquity,
		},
	}
	switch {
	case margin > 0.30 && wideMoat:
		v.stance = models.StanceStrongBuy
		v.rationale = append(v.rationale, fmt.Sprintf("deep margin of safety %.0f%% with a wide moat", margin*100))
	case margin > 0.20:
		v.stance = models.StanceBuy
		v.rationale = append(v.rationale, fmt.Sprintf("margin of safety %.0f%% at current multiples", margin*100))
	case margin < -0.20:
		v.stance = models.StanceSell
		v.rationale = append(v.rationale, "multiples price in more than fair value")
		v.concerns = append(v.concerns, "valuation stretched versus fundamentals")
	default:
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "fairly valued, no actionable margin of safety")
	}
	if wideMoat {
		v.opportunities = append(v.opportunities, "durable returns on equity support compounding")
	}
	if f.DebtToEquity > 1.5 {
		v.concerns = append(v.concerns, "leverage erodes the margin of safety")
	}
	return v, nil
}

// growthStrategy scores durable top-line growth, rule-of-40 style.
func growthStrategy(ev Evidence) (assessment, error) {
	f, err := fundamentals(ev)
	if err != nil {
		return assessment{}, err
	}

	ruleOf40 := f.RevenueGrowth + f.OperatingMargin
	v := assessment{
		confidence: baseConfidence(ev) + 0.1,
		metrics: map[string]float64{
			"revenue_growth":  f.RevenueGrowth,
			"earnings_growth": f.EarningsGrowth,
			"rule_of_40":      ruleOf40,
		},
	}
	switch {
	case f.RevenueGrowth > 0.40 && ruleOf40 > 0.40:
		v.stance = models.StanceStrongBuy
		v.rationale = append(v.rationale, fmt.Sprintf("hypergrowth at %.0f%% with rule-of-40 at %.0f", f.RevenueGrowth*100, ruleOf40*100))
	case f.RevenueGrowth > 0.20:
		v.stance = models.StanceBuy
		v.rationale = append(v.rationale, fmt.Sprintf("revenue compounding at %.0f%%", f.RevenueGrowth*100))
	case f.RevenueGrowth < 0:
		v.stance = models.StanceSell
		v.rationale = append(v.rationale, "shrinking top line")
		v.concerns = append(v.concerns, "revenue contraction")
	default:
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "growth below venture thresholds")
	}
	if f.EarningsGrowth > f.RevenueGrowth && f.RevenueGrowth > 0 {
		v.opportunities = append(v.opportunities, "operating leverage expanding earnings faster than revenue")
	}
	if ruleOf40 < 0.20 && f.RevenueGrowth > 0.20 {
		v.concerns = append(v.concerns, "growth bought with unsustainable burn")
	}
	return v, nil
}

// riskStrategy is the committee's brake: it scores downside exposure and
// leans toward hold when risk metrics are unremarkable.
func riskStrategy(ev Evidence) (assessment, error) {
	f, err := fundamentals(ev)
	if err != nil {
		return assessment{}, err
	}

	riskScore := 0.0
	v := assessment{
		confidence: baseConfidence(ev),
		metrics: map[string]float64{
			"beta":           f.Beta,
			"debt_to_equity": f.DebtToEquity,
			"current_ratio":  f.CurrentRatio,
		},
	}
	if f.Beta > 1.5 {
		riskScore += 1
		v.concerns = append(v.concerns, fmt.Sprintf("beta %.1f amplifies drawdowns", f.Beta))
	}
	if f.DebtToEquity > 2 {
		riskScore += 1.5
		v.concerns = append(v.concerns, "balance sheet leveraged beyond comfort")
	} else if f.DebtToEquity > 1 {
		riskScore += 0.5
	}
	if f.CurrentRatio > 0 && f.CurrentRatio < 1 {
		riskScore += 1
		v.concerns = append(v.concerns, "current liabilities exceed liquid assets")
	}
	if ev.Subject.AssetType == models.AssetIlliquid {
		riskScore += 1
		v.concerns = append(v.concerns, "illiquid position cannot be exited quickly")
	}
	v.metrics["risk_score"] = riskScore

	switch {
	case riskScore >= 3:
		v.stance = models.StanceStrongSell
		v.rationale = append(v.rationale, "compounding risk factors, capital preservation first")
	case riskScore >= 2:
		v.stance = models.StanceSell
		v.rationale = append(v.rationale, "risk-adjusted return unattractive")
	case riskScore >= 1:
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "elevated but manageable risk profile")
	default:
		v.stance = models.StanceBuy
		v.rationale = append(v.rationale, "clean risk profile poses no objection")
		v.opportunities = append(v.opportunities, "low-risk entry point")
	}
	return v, nil
}

// competitiveStrategy reads industry position from margin structure and
// scale.
func competitiveStrategy(ev Evidence) (assessment, error) {
	f, err := fundamentals(ev)
	if err != nil {
		return assessment{}, err
	}

	v := assessment{
		confidence: baseConfidence(ev) + 0.05,
		metrics: map[string]float64{
			"gross_margin":     f.GrossMargin,
			"operating_margin": f.OperatingMargin,
		},
	}
	pricingPower := f.GrossMargin > 0.40
	scale := f.MarketCap.IsPositive() && f.MarketCap.GreaterThan(tenBillion)

	switch {
	case pricingPower && scale:
		v.stance = models.StanceBuy
		v.rationale = append(v.rationale, "pricing power at scale, durable competitive position")
		v.opportunities = append(v.opportunities, "category leadership compounds share gains")
	case pricingPower:
		v.stance = models.StanceBuy
		v.rationale = append(v.rationale, "healthy gross margins signal differentiation")
	case f.GrossMargin > 0 && f.GrossMargin < 0.20:
		v.stance = models.StanceSell
		v.rationale = append(v.rationale, "commodity margins, no pricing power")
		v.concerns = append(v.concerns, "competitive rivalry compresses margins")
	default:
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "middling competitive position")
	}
	return v, nil
}

// forensicStrategy screens for earnings quality problems. Audit flags and
// heavy accruals override everything else.
func forensicStrategy(ev Evidence) (assessment, error) {
	f, err := fundamentals(ev)
	if err != nil {
		return assessment{}, err
	}

	v := assessment{
		confidence: baseConfidence(ev) + 0.1,
		metrics: map[string]float64{
			"accrual_ratio": f.AccrualRatio,
			"audit_flags":   float64(len(f.AuditFlags)),
		},
	}
	switch {
	case len(f.AuditFlags) > 0:
		v.stance = models.StanceStrongSell
		v.confidence += 0.1
		v.rationale = append(v.rationale, "open audit flags disqualify the position")
		for _, flag := range f.AuditFlags {
			v.concerns = append(v.concerns, "audit flag: "+flag)
		}
	case f.AccrualRatio > 0.10:
		v.stance = models.StanceSell
		v.rationale = append(v.rationale, fmt.Sprintf("accrual ratio %.2f suggests earnings ahead of cash", f.AccrualRatio))
		v.concerns = append(v.concerns, "earnings quality deteriorating")
	case f.FreeCashFlow.IsNegative():
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "negative free cash flow warrants monitoring")
		v.concerns = append(v.concerns, "cash conversion lagging reported earnings")
	default:
		v.stance = models.StanceHold
		v.rationale = append(v.rationale, "books look clean, no forensic objection")
		v.opportunities = append(v.opportunities, "reported earnings fully cash-backed")
	}
	return v, nil
}
