// Package orchestrator coordinates one analysis request end to end: it
// decomposes the request into per-agent tasks, fans them out concurrently,
// runs the debate when asked, and assembles the final report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quorumlabs/committee/internal/agents"
	"github.com/quorumlabs/committee/internal/debate"
	"github.com/quorumlabs/committee/internal/metrics"
	"github.com/quorumlabs/committee/internal/models"
)

// ErrInvalidRequest rejects a request before any work happens; a rejected
// request has no side effects.
var ErrInvalidRequest = errors.New("orchestrator: invalid request")

// ErrConsensusUnavailable reports a debate engine failure. The engine is
// designed to always resolve, so this surfaces only on cancellation or a
// wiring bug.
var ErrConsensusUnavailable = errors.New("orchestrator: consensus unavailable")

// Config tunes request handling. Zero values fall back to defaults.
type Config struct {
	// RequestTimeout bounds one whole analysis.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AgentTimeout bounds each member's opening analysis. A member that
	// exceeds it contributes a fallback hold position instead of failing
	// the request.
	AgentTimeout time.Duration `yaml:"agent_timeout"`
	// Debate tunes the consensus engine.
	Debate debate.Config `yaml:"debate"`
}

// DefaultConfig returns the standard orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 2 * time.Minute,
		AgentTimeout:   30 * time.Second,
		Debate:         debate.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = def.AgentTimeout
	}
	return c
}

// Orchestrator owns the lifetime of each request's positions, rounds and
// consensus. It holds no per-request state between calls.
type Orchestrator struct {
	cfg       Config
	registry  *agents.Registry
	engine    *debate.Engine
	collector *metrics.Collector
	log       *logrus.Entry
	now       func() time.Time
}

// Option customizes orchestrator construction.
type Option func(*Orchestrator)

// WithCollector mirrors request metrics into the collector.
func WithCollector(col *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = col }
}

func withClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator. Pass a zero Config for defaults.
func New(cfg Config, registry *agents.Registry, engine *debate.Engine, log *logrus.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		engine:   engine,
		log:      log.WithField("component", "orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAnalysis executes one request: validate, fan out the committee, then
// debate or vote directly. A member failure or timeout degrades that member
// to a fallback hold position; only validation and debate-engine failures
// fail the request.
func (o *Orchestrator) RunAnalysis(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisReport, error) {
	start := o.now()

	committee, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	requestID := uuid.New().String()
	log := o.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"ticker":     req.Subject.Ticker,
	})
	log.WithField("members", len(committee)).Info("analysis started")

	opening, degraded := o.fanOut(ctx, req.Subject, committee)

	report := &models.AnalysisReport{
		RequestID: requestID,
		Subject:   req.Subject,
		Degraded:  degraded,
		StartedAt: start,
	}

	var consensus *models.Consensus
	if req.RunDebate {
		cfg := o.cfg.Debate
		if req.MaxRounds > 0 {
			cfg.MaxRounds = req.MaxRounds
		}
		engine := o.engine
		if cfg != o.cfg.Debate {
			engine = debate.NewEngine(cfg, o.log.Logger)
		}
		var rounds []models.DebateRound
		consensus, rounds, err = engine.Resolve(ctx, req.Subject, committee, opening)
		if err != nil {
			o.trackRequest(start, err)
			return nil, fmt.Errorf("%w: %v", ErrConsensusUnavailable, err)
		}
		report.Rounds = rounds
		opening = rounds[len(rounds)-1].Positions
	} else {
		consensus = debate.Synthesize(opening, priorityOrder(committee), models.ConsensusDirect)
		if consensus == nil {
			o.trackRequest(start, ErrConsensusUnavailable)
			return nil, ErrConsensusUnavailable
		}
	}
	report.Consensus = consensus
	report.Positions = sortedPositions(opening)
	if degraded {
		report.Notes = append(report.Notes, "one or more members degraded to a fallback position")
	}
	report.CompletedAt = o.now()

	o.trackRequest(start, nil)
	log.WithFields(logrus.Fields{
		"stance":     consensus.FinalStance.String(),
		"confidence": consensus.Confidence,
		"degraded":   degraded,
	}).Info("analysis completed")
	return report, nil
}

// validate checks the request and resolves the committee roster. The
// forensic member always joins for illiquid subjects regardless of the
// requested roster.
func (o *Orchestrator) validate(req models.AnalysisRequest) ([]agents.Agent, error) {
	if req.Subject.Ticker == "" {
		return nil, fmt.Errorf("%w: empty subject ticker", ErrInvalidRequest)
	}
	if req.MaxRounds < 0 {
		return nil, fmt.Errorf("%w: negative max_rounds", ErrInvalidRequest)
	}

	roles := req.RequiredAgents
	if len(roles) == 0 {
		roles = models.CommitteeRoles
	} else if req.Subject.AssetType == models.AssetIlliquid {
		hasForensic := false
		for _, role := range roles {
			if role == models.RoleFinancialForensics {
				hasForensic = true
				break
			}
		}
		if !hasForensic {
			roles = append(append([]models.AgentRole{}, roles...), models.RoleFinancialForensics)
		}
	}

	committee, err := o.registry.Subset(roles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return committee, nil
}

// fanOut runs every member's opening analysis concurrently. Members that
// time out or panic the deadline produce a fallback hold position; the
// barrier never fails.
func (o *Orchestrator) fanOut(ctx context.Context, subject models.Subject, committee []agents.Agent) (map[string]models.Position, bool) {
	positions := make(map[string]models.Position, len(committee))
	var mu sync.Mutex
	degraded := false

	g, gctx := errgroup.WithContext(ctx)
	for _, member := range committee {
		g.Go(func() error {
			task := agents.Task{
				Subject:     subject,
				Description: "opening committee analysis",
				Round:       0,
			}

			agentCtx, cancel := context.WithTimeout(gctx, o.cfg.AgentTimeout)
			defer cancel()

			done := make(chan models.Position, 1)
			go func() {
				done <- member.Analyze(agentCtx, task)
			}()

			var pos models.Position
			select {
			case pos = <-done:
			case <-agentCtx.Done():
				o.log.WithField("agent", member.ID()).Warn("member timed out, using fallback position")
				pos = fallbackPosition(member, agentCtx.Err())
				mu.Lock()
				degraded = true
				mu.Unlock()
			}

			mu.Lock()
			positions[member.ID()] = pos
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // members never return errors

	return positions, degraded
}

func fallbackPosition(member agents.Agent, cause error) models.Position {
	return models.Position{
		AgentID:    member.ID(),
		Role:       member.Role(),
		Stance:     models.StanceHold,
		Confidence: 0,
		Rationale:  []string{fmt.Sprintf("analysis unavailable: %v", cause)},
		CreatedAt:  time.Now(),
	}
}

func (o *Orchestrator) trackRequest(start time.Time, err error) {
	if o.collector != nil {
		o.collector.TrackRequest(o.now().Sub(start), err)
	}
}

func priorityOrder(committee []agents.Agent) []string {
	ids := make([]string, 0, len(committee))
	for _, member := range committee {
		ids = append(ids, member.ID())
	}
	return ids
}

func sortedPositions(positions map[string]models.Position) []models.Position {
	out := make([]models.Position, 0, len(positions))
	for _, pos := range positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
