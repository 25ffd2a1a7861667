// Package debate runs the committee's multi-round consensus process: agents
// with far-apart stances challenge each other, rebut under pressure, and the
// engine synthesizes a final recommendation once convictions align or the
// round cap lands.
package debate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/committee/internal/agents"
	"github.com/quorumlabs/committee/internal/metrics"
	"github.com/quorumlabs/committee/internal/models"
)

// state is the engine's position in the debate lifecycle.
type state int

const (
	stateOpening state = iota
	stateChallenging
	stateRebutting
	stateSynthesizing
	stateResolved
)

func (s state) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateChallenging:
		return "challenging"
	case stateRebutting:
		return "rebutting"
	case stateSynthesizing:
		return "synthesizing"
	case stateResolved:
		return "resolved"
	}
	return "unknown"
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// MaxRounds is a hard stop: the debate always resolves within this many
	// challenge/rebuttal rounds even if agreement is never reached.
	MaxRounds int `yaml:"max_rounds"`
	// AgreementThreshold resolves the debate early once the
	// confidence-weighted share of the modal stance reaches it.
	AgreementThreshold float64 `yaml:"agreement_threshold"`
}

// DefaultConfig returns the standard debate tuning.
func DefaultConfig() Config {
	return Config{MaxRounds: 3, AgreementThreshold: 0.7}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}
	if c.AgreementThreshold <= 0 {
		c.AgreementThreshold = def.AgreementThreshold
	}
	return c
}

// Engine drives one debate at a time. It is stateless between calls; all
// debate state lives on the Resolve stack.
type Engine struct {
	cfg       Config
	collector *metrics.Collector
	log       *logrus.Entry
	now       func() time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithCollector mirrors round counts and durations into the collector.
func WithCollector(col *metrics.Collector) Option {
	return func(e *Engine) { e.collector = col }
}

func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine. Pass a zero Config for defaults.
func NewEngine(cfg Config, log *logrus.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logrus.New()
	}
	e := &Engine{
		cfg: cfg.withDefaults(),
		log: log.WithField("component", "debate"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs the debate to consensus. The opening positions are round
// zero's fan-out results; participants must cover every opening position so
// challenged agents can rebut. Resolve always terminates within the round
// cap and returns exactly one Consensus; the only error paths are context
// cancellation and a missing participant.
func (e *Engine) Resolve(ctx context.Context, subject models.Subject, participants []agents.Agent, opening map[string]models.Position) (*models.Consensus, []models.DebateRound, error) {
	if len(opening) == 0 {
		return nil, nil, fmt.Errorf("debate: no opening positions")
	}
	byID := make(map[string]agents.Agent, len(participants))
	priority := make([]string, 0, len(participants))
	for _, agent := range participants {
		byID[agent.ID()] = agent
		priority = append(priority, agent.ID())
	}
	for id := range opening {
		if _, ok := byID[id]; !ok {
			return nil, nil, fmt.Errorf("debate: opening position from unknown participant %q", id)
		}
	}

	start := e.now()
	current := clonePositions(opening)
	rounds := []models.DebateRound{{
		Number:    0,
		Positions: clonePositions(current),
		Agreement: Agreement(current),
		StartedAt: start,
	}}

	st := stateOpening
	roundNum := 0
	for st != stateResolved {
		if err := ctx.Err(); err != nil {
			return nil, rounds, err
		}
		switch st {
		case stateOpening:
			if Agreement(current) >= e.cfg.AgreementThreshold {
				st = stateResolved
				break
			}
			st = stateChallenging

		case stateChallenging:
			challenges := e.challenge(current)
			if len(challenges) == 0 {
				// Nobody is far enough apart to challenge; further rounds
				// cannot move any stance.
				st = stateResolved
				break
			}
			roundNum++
			rebutted, rebuttals, err := e.rebut(ctx, subject, byID, current, challenges, roundNum)
			if err != nil {
				return nil, rounds, err
			}
			current = rebutted
			rounds = append(rounds, models.DebateRound{
				Number:     roundNum,
				Positions:  clonePositions(current),
				Challenges: challenges,
				Rebuttals:  rebuttals,
				Agreement:  Agreement(current),
				StartedAt:  e.now(),
			})
			st = stateSynthesizing

		case stateSynthesizing:
			agreement := Agreement(current)
			e.log.WithFields(logrus.Fields{
				"ticker":    subject.Ticker,
				"round":     roundNum,
				"agreement": agreement,
			}).Debug("round synthesized")
			if agreement >= e.cfg.AgreementThreshold || roundNum >= e.cfg.MaxRounds {
				st = stateResolved
			} else {
				st = stateChallenging
			}
		}
	}

	consensus := Synthesize(current, priority, models.ConsensusWeightedVote)
	consensus.RoundsUsed = roundNum

	if e.collector != nil {
		e.collector.TrackDebate(roundNum, e.now().Sub(start))
	}
	e.log.WithFields(logrus.Fields{
		"ticker":      subject.Ticker,
		"stance":      consensus.FinalStance.String(),
		"rounds_used": roundNum,
		"dissent":     len(consensus.Dissent),
	}).Info("debate resolved")
	return consensus, rounds, nil
}

// challenge pairs every two positions more than one ordinal step apart. The
// more confident side challenges the other; equal confidence challenges both
// ways.
func (e *Engine) challenge(positions map[string]models.Position) []models.Challenge {
	ids := sortedIDs(positions)
	var out []models.Challenge
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := positions[ids[i]], positions[ids[j]]
			if a.Stance.StepsFrom(b.Stance) <= 1 {
				continue
			}
			if a.Confidence >= b.Confidence {
				out = append(out, newChallenge(a, b))
			}
			if b.Confidence >= a.Confidence {
				out = append(out, newChallenge(b, a))
			}
		}
	}
	return out
}

func newChallenge(challenger, target models.Position) models.Challenge {
	claim := fmt.Sprintf("%s sees %s but you hold %s", challenger.AgentID, challenger.Stance, target.Stance)
	if metric := topMetric(challenger); metric != "" {
		claim = fmt.Sprintf("%s; reconcile against %s", claim, metric)
	}
	return models.Challenge{
		ChallengerID: challenger.AgentID,
		TargetID:     target.AgentID,
		Claim:        claim,
	}
}

// topMetric names the challenger's strongest supporting metric so the
// challenge cites something concrete.
func topMetric(pos models.Position) string {
	best := ""
	bestAbs := 0.0
	for name, value := range pos.SupportingMetrics {
		abs := value
		if abs < 0 {
			abs = -abs
		}
		if best == "" || abs > bestAbs || (abs == bestAbs && name < best) {
			best = name
			bestAbs = abs
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("%s=%.2f", best, pos.SupportingMetrics[best])
}

// rebut re-invokes Analyze for every challenged agent concurrently.
// Unchallenged positions carry forward unchanged.
func (e *Engine) rebut(ctx context.Context, subject models.Subject, byID map[string]agents.Agent, current map[string]models.Position, challenges []models.Challenge, round int) (map[string]models.Position, []models.Rebuttal, error) {
	perTarget := make(map[string][]models.Challenge)
	for _, ch := range challenges {
		perTarget[ch.TargetID] = append(perTarget[ch.TargetID], ch)
	}

	next := clonePositions(current)
	revised := make(map[string]models.Position, len(perTarget))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for targetID, targeted := range perTarget {
		agent := byID[targetID]
		task := agents.Task{
			Subject:     subject,
			Description: fmt.Sprintf("rebut round %d challenges", round),
			Round:       round,
			Challenges:  targeted,
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pos := agent.Analyze(gctx, task)
			mu.Lock()
			revised[targetID] = pos
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	rebuttals := make([]models.Rebuttal, 0, len(revised))
	for _, targetID := range sortedIDs(current) {
		pos, ok := revised[targetID]
		if !ok {
			continue
		}
		next[targetID] = pos
		response := fmt.Sprintf("holds %s at confidence %.2f", pos.Stance, pos.Confidence)
		if prev := current[targetID]; prev.Stance != pos.Stance {
			response = fmt.Sprintf("revised %s to %s at confidence %.2f", prev.Stance, pos.Stance, pos.Confidence)
		}
		rebuttals = append(rebuttals, models.Rebuttal{AgentID: targetID, Response: response})
	}
	return next, rebuttals, nil
}

func clonePositions(in map[string]models.Position) map[string]models.Position {
	out := make(map[string]models.Position, len(in))
	for id, pos := range in {
		out[id] = pos
	}
	return out
}

func sortedIDs(positions map[string]models.Position) []string {
	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
