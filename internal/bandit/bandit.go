// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package bandit implements the explore/exploit policy used to pick ad
// creatives.
//
// State is kept per discretized context. A context with fewer than
// WarmupPeriod trials always explores; afterwards it explores with
// probability 1 - reward/total. Exploration picks arms by UCB1, exploitation
// by the best observed mean. Every PersistEvery recorded rewards the state is
// handed to the Persister.
package bandit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/metrics"
)

// Config configures the policy.
type Config struct {
	WarmupPeriod int64
	Alpha        float64

	// PersistEvery is the number of RecordReward calls between snapshots.
	PersistEvery int64

	// Buckets is the number of levels each context feature is quantized into.
	Buckets int
}

// DefaultConfig returns the production policy settings.
func DefaultConfig() Config {
	return Config{
		WarmupPeriod: 50,
		Alpha:        math.Sqrt2,
		PersistEvery: 100,
		Buckets:      4,
	}
}

// ArmStats is the observed outcome of one arm within a context.
type ArmStats struct {
	Trials int64   `json:"trials"`
	Reward float64 `json:"reward"`
}

// Mean returns the observed reward per trial.
func (a ArmStats) Mean() float64 {
	if a.Trials == 0 {
		return 0
	}
	return a.Reward / float64(a.Trials)
}

// State is a snapshot of one context.
type State struct {
	ContextID string              `json:"context_id"`
	Total     int64               `json:"total"`
	Reward    float64             `json:"reward"`
	Arms      map[string]ArmStats `json:"arms"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Persister stores and restores policy state.
type Persister interface {
	Save(ctx context.Context, states []State) error
	Load(ctx context.Context) ([]State, error)
}

type contextState struct {
	mu        sync.Mutex
	total     int64
	reward    float64
	arms      map[string]*ArmStats
	updatedAt time.Time
}

// Engine is the bandit policy. Safe for concurrent use.
type Engine struct {
	cfg       Config
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand

	mu       sync.RWMutex
	contexts map[string]*contextState

	interactions atomic.Int64
}

// NewEngine creates a bandit engine. persister may be nil.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEngine(cfg Config, persister Persister, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.WarmupPeriod <= 0 {
		cfg.WarmupPeriod = def.WarmupPeriod
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = def.PersistEvery
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	seed := uint64(time.Now().UnixNano())
	return &Engine{
		cfg:       cfg,
		persister: persister,
		logger:    logger.With().Str("component", "bandit").Logger(),
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(seed, seed>>32)), //nolint:gosec // exploration, not security
		contexts:  make(map[string]*contextState),
	}
}

func (e *Engine) float() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) intN(n int) int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rng.IntN(n)
}

// ContextKey discretizes features into a context id. Values are clamped to
// [0,1] and quantized into Buckets levels; keys are emitted in sorted order.
func (e *Engine) ContextKey(features map[string]float64) string {
	if len(features) == 0 {
		return "default"
	}
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		v := features[name]
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Max(0, math.Min(1, v))
		level := int(v * float64(e.cfg.Buckets))
		if level == e.cfg.Buckets {
			level--
		}
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%d", name, level)
	}
	return b.String()
}

func (e *Engine) context(contextID string, create bool) *contextState {
	e.mu.RLock()
	cs, ok := e.contexts[contextID]
	e.mu.RUnlock()
	if ok || !create {
		return cs
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cs, ok = e.contexts[contextID]; ok {
		return cs
	}
	cs = &contextState{arms: make(map[string]*ArmStats)}
	e.contexts[contextID] = cs
	return cs
}

// ShouldExplore decides explore vs exploit for a user in the context
// described by features.
func (e *Engine) ShouldExplore(userID string, features map[string]float64) bool {
	contextID := e.ContextKey(features)
	explore := e.ShouldExploreContext(contextID)
	e.logger.Trace().Str("user_id", userID).Str("context_id", contextID).Bool("explore", explore).Msg("bandit decision")
	return explore
}

// ShouldExploreContext decides explore vs exploit for a context id.
func (e *Engine) ShouldExploreContext(contextID string) bool {
	explore := true
	if cs := e.context(contextID, false); cs != nil {
		cs.mu.Lock()
		total, reward := cs.total, cs.reward
		cs.mu.Unlock()
		if total >= e.cfg.WarmupPeriod {
			p := 1 - math.Max(0, math.Min(1, reward/float64(total)))
			explore = e.float() < p
		}
	}
	metrics.RecordBanditDecision(explore)
	return explore
}

// SelectArm returns the arm with the highest UCB score. In an unseen context
// the arm is drawn uniformly. Ties go to the earlier arm in arms.
func (e *Engine) SelectArm(contextID string, arms []string) string {
	if len(arms) == 0 {
		return ""
	}
	cs := e.context(contextID, false)
	if cs == nil {
		return arms[e.intN(len(arms))]
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.total == 0 {
		return arms[e.intN(len(arms))]
	}
	lnTotal := math.Log(float64(cs.total))
	best, bestScore := arms[0], math.Inf(-1)
	for _, arm := range arms {
		var st ArmStats
		if a, ok := cs.arms[arm]; ok {
			st = *a
		}
		trials := math.Max(1, float64(st.Trials))
		score := st.Reward/trials + e.cfg.Alpha*math.Sqrt(lnTotal/trials)
		if score > bestScore {
			best, bestScore = arm, score
		}
	}
	return best
}

// BestArm returns the arm with the highest observed mean reward, or the
// first arm when nothing has been observed.
func (e *Engine) BestArm(contextID string, arms []string) string {
	if len(arms) == 0 {
		return ""
	}
	cs := e.context(contextID, false)
	if cs == nil {
		return arms[0]
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	best, bestMean := arms[0], -1.0
	for _, arm := range arms {
		mean := 0.0
		if a, ok := cs.arms[arm]; ok {
			mean = a.Mean()
		}
		if mean > bestMean {
			best, bestMean = arm, mean
		}
	}
	return best
}

// RecordReward counts one trial of arm with the given reward. Every
// PersistEvery calls the state is saved through the Persister.
func (e *Engine) RecordReward(ctx context.Context, contextID, arm string, reward float64) {
	cs := e.context(contextID, true)
	cs.mu.Lock()
	st := cs.arm(arm)
	st.Trials++
	st.Reward += reward
	cs.total++
	cs.reward += reward
	cs.updatedAt = e.now()
	cs.mu.Unlock()

	if e.interactions.Add(1)%e.cfg.PersistEvery == 0 {
		if err := e.Persist(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("bandit state persist failed")
		}
	}
}

// AttributeReward adds a delayed reward to an arm already counted by
// RecordReward. It does not count a trial.
func (e *Engine) AttributeReward(contextID, arm string, reward float64) {
	cs := e.context(contextID, false)
	if cs == nil {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.arms[arm]; !ok {
		return
	}
	cs.arms[arm].Reward += reward
	cs.reward += reward
	cs.updatedAt = e.now()
}

func (cs *contextState) arm(name string) *ArmStats {
	st, ok := cs.arms[name]
	if !ok {
		st = &ArmStats{}
		cs.arms[name] = st
	}
	return st
}

// Snapshot returns the state of every context ordered by id.
func (e *Engine) Snapshot() []State {
	e.mu.RLock()
	ids := make([]string, 0, len(e.contexts))
	for id := range e.contexts {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	out := make([]State, 0, len(ids))
	for _, id := range ids {
		cs := e.context(id, false)
		if cs == nil {
			continue
		}
		cs.mu.Lock()
		s := State{ContextID: id, Total: cs.total, Reward: cs.reward, UpdatedAt: cs.updatedAt, Arms: make(map[string]ArmStats, len(cs.arms))}
		for name, a := range cs.arms {
			s.Arms[name] = *a
		}
		cs.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// Restore replaces the state of the contexts present in states.
func (e *Engine) Restore(states []State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range states {
		s := &states[i]
		cs := &contextState{total: s.Total, reward: s.Reward, updatedAt: s.UpdatedAt, arms: make(map[string]*ArmStats, len(s.Arms))}
		for name, a := range s.Arms {
			cs.arms[name] = &a
		}
		e.contexts[s.ContextID] = cs
	}
}

// Persist saves the current state. It is a no-op without a Persister.
func (e *Engine) Persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	states := e.Snapshot()
	if err := e.persister.Save(ctx, states); err != nil {
		metrics.BanditPersists.WithLabelValues("error").Inc()
		return fmt.Errorf("save bandit state: %w", err)
	}
	metrics.BanditPersists.WithLabelValues("ok").Inc()
	e.logger.Debug().Int("contexts", len(states)).Msg("bandit state persisted")
	return nil
}

// Load restores state from the Persister. It is a no-op without one.
func (e *Engine) Load(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	states, err := e.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load bandit state: %w", err)
	}
	e.Restore(states)
	e.logger.Info().Int("contexts", len(states)).Msg("bandit state restored")
	return nil
}

// Interactions returns the number of RecordReward calls.
func (e *Engine) Interactions() int64 {
	return e.interactions.Load()
}
