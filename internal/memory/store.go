// Package memory holds each agent's working memory: a short-term buffer of
// recent analyses and a long-term tier of entries worth keeping, ranked by a
// recency+importance+frequency relevance score.
package memory

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind labels what an entry records.
type Kind string

const (
	KindAnalysis    Kind = "analysis"
	KindChallenge   Kind = "challenge"
	KindObservation Kind = "observation"
)

// Entry is one remembered item. Importance is set by the writer at Record
// time; AccessCount and LastAccessedAt are updated by Recall.
type Entry struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Kind           Kind      `json:"kind"`
	Content        string    `json:"content"`
	Tags           []string  `json:"tags,omitempty"`
	Importance     float64   `json:"importance"`
	AccessCount    int       `json:"access_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Weights are the relevance score components. They must sum to roughly 1 for
// scores to stay in [0,1], but the store does not enforce it.
type Weights struct {
	Recency    float64 `yaml:"recency"`
	Importance float64 `yaml:"importance"`
	Frequency  float64 `yaml:"frequency"`
}

// Config tunes the store. Zero values fall back to defaults.
type Config struct {
	ShortTermCap int     `yaml:"short_term_cap"`
	LongTermCap  int     `yaml:"long_term_cap"`
	Weights      Weights `yaml:"weights"`
	// RecencyHalfLife is the age at which the recency factor decays to 0.5.
	RecencyHalfLife time.Duration `yaml:"recency_half_life"`
	// FrequencyCap is the access count at which the frequency factor saturates.
	FrequencyCap int `yaml:"frequency_cap"`
	// PromoteImportance sends a new entry straight to long-term at Record.
	PromoteImportance float64 `yaml:"promote_importance"`
	// ConsolidateThreshold is the relevance at which Consolidate promotes.
	ConsolidateThreshold float64 `yaml:"consolidate_threshold"`
	// ConsolidateAccessCount promotes regardless of relevance.
	ConsolidateAccessCount int `yaml:"consolidate_access_count"`
	// MaxAge and MinRetainImportance drive Cleanup: long-term entries older
	// than MaxAge are removed unless their importance reaches the floor.
	MaxAge              time.Duration `yaml:"max_age"`
	MinRetainImportance float64       `yaml:"min_retain_importance"`
}

// DefaultConfig returns the standard memory tuning.
func DefaultConfig() Config {
	return Config{
		ShortTermCap:           50,
		LongTermCap:            500,
		Weights:                Weights{Recency: 0.4, Importance: 0.4, Frequency: 0.2},
		RecencyHalfLife:        168 * time.Hour,
		FrequencyCap:           10,
		PromoteImportance:      0.7,
		ConsolidateThreshold:   0.6,
		ConsolidateAccessCount: 3,
		MaxAge:                 90 * 24 * time.Hour,
		MinRetainImportance:    0.8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ShortTermCap <= 0 {
		c.ShortTermCap = def.ShortTermCap
	}
	if c.LongTermCap <= 0 {
		c.LongTermCap = def.LongTermCap
	}
	if c.Weights == (Weights{}) {
		c.Weights = def.Weights
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = def.RecencyHalfLife
	}
	if c.FrequencyCap <= 0 {
		c.FrequencyCap = def.FrequencyCap
	}
	if c.PromoteImportance <= 0 {
		c.PromoteImportance = def.PromoteImportance
	}
	if c.ConsolidateThreshold <= 0 {
		c.ConsolidateThreshold = def.ConsolidateThreshold
	}
	if c.ConsolidateAccessCount <= 0 {
		c.ConsolidateAccessCount = def.ConsolidateAccessCount
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.MinRetainImportance <= 0 {
		c.MinRetainImportance = def.MinRetainImportance
	}
	return c
}

// Query filters Recall results. Zero-value matches everything.
type Query struct {
	Tags  []string
	Kinds []Kind
}

// partition is one agent's memory. Each partition has its own lock; agents
// never contend with each other.
type partition struct {
	mu        sync.Mutex
	shortTerm []*Entry // FIFO, oldest first
	longTerm  []*Entry
}

// Stats is a point-in-time snapshot of one partition.
type Stats struct {
	ShortTerm    int          `json:"short_term"`
	LongTerm     int          `json:"long_term"`
	ByKind       map[Kind]int `json:"by_kind"`
	AvgRelevance float64      `json:"avg_relevance"`
}

// Store is the process-wide memory store, partitioned per agent.
type Store struct {
	cfg Config
	log *logrus.Entry
	now func() time.Time

	mu         sync.Mutex
	partitions map[string]*partition
}

// Option customizes store construction.
type Option func(*Store)

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds a store with the given tuning. Pass a zero Config for
// defaults.
func NewStore(cfg Config, log *logrus.Logger, opts ...Option) *Store {
	if log == nil {
		log = logrus.New()
	}
	s := &Store{
		cfg:        cfg.withDefaults(),
		log:        log.WithField("component", "memory"),
		now:        time.Now,
		partitions: make(map[string]*partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) partition(agentID string) *partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[agentID]
	if !ok {
		p = &partition{}
		s.partitions[agentID] = p
	}
	return p
}

// relevance scores an entry at time now. Recency decays exponentially from
// the last access with the configured half-life; frequency is log-scaled and
// saturates at FrequencyCap accesses.
func (s *Store) relevance(e *Entry, now time.Time) float64 {
	age := now.Sub(e.LastAccessedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-age.Hours() / s.cfg.RecencyHalfLife.Hours())
	frequency := math.Log1p(float64(e.AccessCount)) / math.Log1p(float64(s.cfg.FrequencyCap))
	if frequency > 1 {
		frequency = 1
	}
	w := s.cfg.Weights
	return w.Recency*recency + w.Importance*e.Importance + w.Frequency*frequency
}

// Record stores a new entry in the agent's short-term buffer, evicting the
// oldest entry at capacity. Entries at or above the promote threshold go
// straight to long-term instead. The importance is clamped to [0,1].
func (s *Store) Record(agentID string, kind Kind, content string, importance float64, tags ...string) Entry {
	importance = math.Max(0, math.Min(1, importance))
	now := s.now()
	e := &Entry{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Kind:           kind,
		Content:        content,
		Tags:           tags,
		Importance:     importance,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	p := s.partition(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if importance >= s.cfg.PromoteImportance {
		s.insertLongTermLocked(p, e, now)
	} else {
		p.shortTerm = append(p.shortTerm, e)
		if len(p.shortTerm) > s.cfg.ShortTermCap {
			p.shortTerm = p.shortTerm[len(p.shortTerm)-s.cfg.ShortTermCap:]
		}
	}
	return *e
}

// insertLongTermLocked adds e to long-term, evicting the lowest-relevance
// entry when at capacity. Caller holds p.mu.
func (s *Store) insertLongTermLocked(p *partition, e *Entry, now time.Time) {
	p.longTerm = append(p.longTerm, e)
	if len(p.longTerm) <= s.cfg.LongTermCap {
		return
	}
	lowest := 0
	lowestScore := math.Inf(1)
	for i, cand := range p.longTerm {
		if score := s.relevance(cand, now); score < lowestScore {
			lowestScore = score
			lowest = i
		}
	}
	p.longTerm = append(p.longTerm[:lowest], p.longTerm[lowest+1:]...)
}

func (q Query) matches(e *Entry) bool {
	if len(q.Kinds) > 0 {
		ok := false
		for _, k := range q.Kinds {
			if e.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(q.Tags) > 0 {
		for _, want := range q.Tags {
			found := false
			for _, have := range e.Tags {
				if have == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// Recall returns up to limit entries across both tiers, most relevant first.
// Recall is a read with a deliberate write: every returned entry's access
// count is incremented and its last-access time reset, so recalled memories
// rank higher in future recalls. Returned entries are copies; callers cannot
// mutate the store through them.
func (s *Store) Recall(agentID string, q Query, limit int) []Entry {
	if limit <= 0 {
		limit = 10
	}
	now := s.now()
	p := s.partition(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	type scored struct {
		entry *Entry
		score float64
	}
	candidates := make([]scored, 0, len(p.shortTerm)+len(p.longTerm))
	for _, tier := range [][]*Entry{p.shortTerm, p.longTerm} {
		for _, e := range tier {
			if q.matches(e) {
				candidates = append(candidates, scored{e, s.relevance(e, now)})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		c.entry.AccessCount++
		c.entry.LastAccessedAt = now
		out = append(out, *c.entry)
	}
	return out
}

// Consolidate promotes short-term entries whose relevance reaches the
// threshold, or which have been recalled often enough, into long-term, then
// clears the consumed short-term slots. The partition's total entry count
// never increases.
func (s *Store) Consolidate(agentID string) int {
	now := s.now()
	p := s.partition(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	promoted := 0
	kept := p.shortTerm[:0]
	for _, e := range p.shortTerm {
		if s.relevance(e, now) >= s.cfg.ConsolidateThreshold || e.AccessCount >= s.cfg.ConsolidateAccessCount {
			s.insertLongTermLocked(p, e, now)
			promoted++
		} else {
			kept = append(kept, e)
		}
	}
	p.shortTerm = kept

	if promoted > 0 {
		s.log.WithFields(logrus.Fields{
			"agent_id": agentID,
			"promoted": promoted,
		}).Debug("consolidated short-term memory")
	}
	return promoted
}

// Cleanup removes long-term entries older than the max age whose importance
// is below the retain floor, and returns the number removed.
func (s *Store) Cleanup(agentID string) int {
	now := s.now()
	p := s.partition(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	kept := p.longTerm[:0]
	for _, e := range p.longTerm {
		if now.Sub(e.CreatedAt) > s.cfg.MaxAge && e.Importance < s.cfg.MinRetainImportance {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	p.longTerm = kept

	if removed > 0 {
		s.log.WithFields(logrus.Fields{
			"agent_id": agentID,
			"removed":  removed,
		}).Debug("expired long-term memory")
	}
	return removed
}

// Stats snapshots one agent's partition.
func (s *Store) Stats(agentID string) Stats {
	now := s.now()
	p := s.partition(agentID)
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		ShortTerm: len(p.shortTerm),
		LongTerm:  len(p.longTerm),
		ByKind:    make(map[Kind]int),
	}
	total := 0.0
	n := 0
	for _, tier := range [][]*Entry{p.shortTerm, p.longTerm} {
		for _, e := range tier {
			st.ByKind[e.Kind]++
			total += s.relevance(e, now)
			n++
		}
	}
	if n > 0 {
		st.AvgRelevance = total / float64(n)
	}
	return st
}

// Agents lists the agent IDs with a partition, sorted.
func (s *Store) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
