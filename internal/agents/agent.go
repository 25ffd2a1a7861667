// Package agents implements the five committee members. Every member runs
// the same pipeline (recall memory, gather evidence, score, record) and
// differs only in the scoring strategy it applies.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/dataflows"
	"github.com/quorumlabs/committee/internal/memory"
	"github.com/quorumlabs/committee/internal/metrics"
	"github.com/quorumlabs/committee/internal/models"
	"github.com/quorumlabs/committee/internal/retrieval"
)

// Task is one unit of committee work: analyze a subject, optionally under
// challenges from prior debate rounds.
type Task struct {
	Subject     models.Subject
	Description string
	Round       int
	Challenges  []models.Challenge
	Context     map[string]string
}

// Agent is one committee member. Analyze always returns a usable Position;
// scoring failures surface as hold with zero confidence, never as an error,
// so one broken member cannot take down the committee.
type Agent interface {
	ID() string
	Role() models.AgentRole
	Analyze(ctx context.Context, task Task) models.Position
}

// Evidence is what a strategy scores: the market snapshot, retrieved
// frameworks and the agent's recalled memory.
type Evidence struct {
	Subject    models.Subject
	Snapshot   *dataflows.Snapshot
	Frameworks []retrieval.Framework
	Recalled   []memory.Entry
	Challenges []models.Challenge
}

// assessment is a strategy's raw verdict, before the base agent applies
// challenge pressure and bundles it into a Position.
type assessment struct {
	stance        models.Stance
	confidence    float64
	rationale     []string
	concerns      []string
	opportunities []string
	metrics       map[string]float64
}

// strategyFunc scores evidence. Strategies are stateless and deterministic
// for identical evidence.
type strategyFunc func(ev Evidence) (assessment, error)

// committeeAgent is the shared pipeline around a strategy.
type committeeAgent struct {
	id        string
	role      models.AgentRole
	strategy  strategyFunc
	memory    *memory.Store
	retrieval retrieval.Client
	provider  dataflows.Provider
	collector *metrics.Collector
	log       *logrus.Entry
	now       func() time.Time
}

// Deps carries everything an agent needs beyond its strategy.
type Deps struct {
	Memory    *memory.Store
	Retrieval retrieval.Client
	Provider  dataflows.Provider
	Collector *metrics.Collector
	Log       *logrus.Logger
}

func newCommitteeAgent(role models.AgentRole, strategy strategyFunc, deps Deps) *committeeAgent {
	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	return &committeeAgent{
		id:        string(role),
		role:      role,
		strategy:  strategy,
		memory:    deps.Memory,
		retrieval: deps.Retrieval,
		provider:  deps.Provider,
		collector: deps.Collector,
		log:       log.WithField("agent", string(role)),
		now:       time.Now,
	}
}

func (a *committeeAgent) ID() string             { return a.id }
func (a *committeeAgent) Role() models.AgentRole { return a.role }

// Analyze runs the full pipeline. Evidence gathering degrades per source;
// only a strategy failure produces the hold/zero-confidence fallback.
func (a *committeeAgent) Analyze(ctx context.Context, task Task) models.Position {
	start := a.now()

	ev := a.gatherEvidence(ctx, task)
	verdict, err := a.strategy(ev)
	if err != nil {
		a.log.WithError(err).Warn("scoring failed, falling back to hold")
		verdict = assessment{
			stance:     models.StanceHold,
			confidence: 0,
			rationale:  []string{fmt.Sprintf("analysis failed: %v", err)},
		}
	} else {
		verdict = a.applyChallenges(verdict, task.Challenges)
	}

	pos := models.Position{
		AgentID:           a.id,
		Role:              a.role,
		Stance:            verdict.stance,
		Confidence:        clamp01(verdict.confidence),
		Rationale:         verdict.rationale,
		Concerns:          verdict.concerns,
		Opportunities:     verdict.opportunities,
		SupportingMetrics: verdict.metrics,
		FrameworksUsed:    frameworkNames(ev.Frameworks),
		Round:             task.Round,
		CreatedAt:         a.now(),
	}

	a.record(task, pos)
	if a.collector != nil {
		a.collector.TrackAgentExecution(a.id, a.now().Sub(start), err == nil)
	}
	return pos
}

func (a *committeeAgent) gatherEvidence(ctx context.Context, task Task) Evidence {
	ev := Evidence{Subject: task.Subject, Challenges: task.Challenges}

	if a.memory != nil {
		ev.Recalled = a.memory.Recall(a.id, memory.Query{Tags: []string{task.Subject.Ticker}}, 5)
	}

	if a.provider != nil {
		snap, err := dataflows.FetchSnapshot(ctx, a.provider, task.Subject.Ticker)
		if err != nil {
			a.log.WithError(err).Warn("snapshot unavailable")
		} else {
			ev.Snapshot = snap
		}
	}

	if a.retrieval != nil {
		query := task.Subject.Ticker + " " + task.Description
		frameworks, err := a.retrieval.Query(ctx, query, retrieval.Filters{
			Tags:  roleTags(a.role),
			Limit: 3,
		})
		if err != nil {
			a.log.WithError(err).Warn("framework retrieval unavailable")
		} else {
			ev.Frameworks = frameworks
		}
	}
	return ev
}

// applyChallenges dampens a challenged verdict: each standing challenge
// costs confidence, and sustained pressure pulls the stance one step toward
// hold.
func (a *committeeAgent) applyChallenges(v assessment, challenges []models.Challenge) assessment {
	mine := 0
	for _, ch := range challenges {
		if ch.TargetID == a.id {
			mine++
			v.rationale = append(v.rationale, "reconsidered under challenge: "+ch.Claim)
		}
	}
	if mine == 0 {
		return v
	}

	v.confidence -= 0.1 * float64(mine)
	if v.confidence < 0.1 {
		v.confidence = 0.1
	}
	if mine >= 2 && v.stance != models.StanceHold {
		if v.stance > models.StanceHold {
			v.stance--
		} else {
			v.stance++
		}
		v.rationale = append(v.rationale, "moderated stance after repeated challenges")
	}
	return v
}

func (a *committeeAgent) record(task Task, pos models.Position) {
	if a.memory == nil {
		return
	}
	kind := memory.KindAnalysis
	if len(task.Challenges) > 0 {
		kind = memory.KindChallenge
	}
	summary := fmt.Sprintf("%s round %d: %s (confidence %.2f): %s",
		task.Subject.Ticker, task.Round, pos.Stance, pos.Confidence,
		strings.Join(pos.Rationale, "; "))
	a.memory.Record(a.id, kind, summary, pos.Confidence, task.Subject.Ticker)
}

func frameworkNames(frameworks []retrieval.Framework) []string {
	if len(frameworks) == 0 {
		return nil
	}
	names := make([]string, 0, len(frameworks))
	for _, f := range frameworks {
		names = append(names, f.Name)
	}
	return names
}

func roleTags(role models.AgentRole) []string {
	switch role {
	case models.RoleValueInvesting:
		return []string{"value"}
	case models.RoleGrowthVC:
		return []string{"growth"}
	case models.RoleRiskManagement:
		return []string{"risk"}
	case models.RoleIndustryCompetitive:
		return []string{"competitive"}
	case models.RoleFinancialForensics:
		return []string{"forensic"}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
