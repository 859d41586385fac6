// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

// Package causal measures the incremental effect of ad campaigns.
//
// Each campaign gets one Experiment, created lazily on first reference and
// running for a fixed duration. Users are assigned once per experiment to
// treatment, control or ghost. Ghost users have the winning ad logged as an
// impression without rendering it, which produces the counterfactual signal.
// Control users see no ad and nothing is logged.
//
// The incrementality multiplier is treatmentRate/controlRate (control here
// covers both ghost and control users), clamped to [0, 2]. Until both arms
// have MinSample exposures it is 1.0, or the value measured by the previous
// experiment of the same campaign.
package causal

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Group is the experiment arm a user belongs to.
type Group string

const (
	GroupTreatment Group = "treatment"
	GroupControl   Group = "control"
	GroupGhost     Group = "ghost"
)

// Withheld reports whether users in g must not be shown the ad.
func (g Group) Withheld() bool {
	return g == GroupControl || g == GroupGhost
}

// Config configures experiments.
type Config struct {
	// Duration is the lifetime of one experiment.
	Duration time.Duration

	// GhostProbability is the share of users assigned to the ghost arm.
	GhostProbability float64

	// ControlProbability is the share of users held out entirely.
	ControlProbability float64

	// MinSample is the exposure count each arm needs before the measured
	// incrementality replaces the prior.
	MinSample int64

	// MaxIncrementality caps the multiplier.
	MaxIncrementality float64
}

// DefaultConfig returns the production experiment settings.
func DefaultConfig() Config {
	return Config{
		Duration:          14 * 24 * time.Hour,
		GhostProbability:  0.05,
		MinSample:         100,
		MaxIncrementality: 2.0,
	}
}

type armStats struct {
	exposures   int64
	conversions int64
}

func (a armStats) rate() float64 {
	if a.exposures == 0 {
		return 0
	}
	return float64(a.conversions) / float64(a.exposures)
}

// experiment is the mutable state of one campaign experiment.
type experiment struct {
	mu         sync.Mutex
	id         string
	campaignID string
	start      time.Time
	end        time.Time
	members    map[string]Group
	treatment  armStats
	holdout    armStats
	prior      float64
}

// Experiment is a snapshot of one campaign experiment.
type Experiment struct {
	ID                  string    `json:"id"`
	CampaignID          string    `json:"campaign_id"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	Members             int       `json:"members"`
	TreatmentExposures  int64     `json:"treatment_exposures"`
	TreatmentConversion int64     `json:"treatment_conversions"`
	HoldoutExposures    int64     `json:"holdout_exposures"`
	HoldoutConversions  int64     `json:"holdout_conversions"`
	Incrementality      float64   `json:"incrementality"`
}

// Engine assigns users to experiment arms and computes incrementality.
// Safe for concurrent use.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand

	mu          sync.Mutex
	experiments map[string]*experiment
}

// NewEngine creates a causal engine.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.MinSample <= 0 {
		cfg.MinSample = def.MinSample
	}
	if cfg.MaxIncrementality <= 0 {
		cfg.MaxIncrementality = def.MaxIncrementality
	}
	now := time.Now()
	return &Engine{
		cfg:         cfg,
		logger:      logger.With().Str("component", "causal").Logger(),
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(now.Unix()))), //nolint:gosec // assignment, not security
		experiments: make(map[string]*experiment),
	}
}

func (e *Engine) float() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rng.Float64()
}

// experiment returns the live experiment for a campaign, starting a new one
// when none exists or the previous one has ended.
func (e *Engine) experiment(campaignID string) *experiment {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.experiments[campaignID]
	if ok && now.Before(exp.end) {
		return exp
	}

	prior := 1.0
	if ok {
		exp.mu.Lock()
		prior = e.incrementalityLocked(exp)
		exp.mu.Unlock()
	}
	exp = &experiment{
		id:         uuid.NewString(),
		campaignID: campaignID,
		start:      now,
		end:        now.Add(e.cfg.Duration),
		members:    make(map[string]Group),
		prior:      prior,
	}
	e.experiments[campaignID] = exp
	e.logger.Info().
		Str("campaign_id", campaignID).
		Str("experiment_id", exp.id).
		Time("end", exp.end).
		Float64("prior", prior).
		Msg("experiment started")
	return exp
}

// Assign returns the arm of userID in the campaign's experiment. The first
// call for a user draws the arm; later calls return the same one.
func (e *Engine) Assign(campaignID, userID string) Group {
	exp := e.experiment(campaignID)

	exp.mu.Lock()
	defer exp.mu.Unlock()
	return e.assignLocked(exp, userID)
}

func (e *Engine) assignLocked(exp *experiment, userID string) Group {
	if g, ok := exp.members[userID]; ok {
		return g
	}
	g := GroupTreatment
	switch r := e.float(); {
	case r < e.cfg.GhostProbability:
		g = GroupGhost
	case r < e.cfg.GhostProbability+e.cfg.ControlProbability:
		g = GroupControl
	}
	exp.members[userID] = g
	return g
}

// ShouldShowGhostAd reports whether the campaign's winning ad is logged as a
// ghost impression for userID instead of being rendered.
func (e *Engine) ShouldShowGhostAd(campaignID, userID string) bool {
	return e.Assign(campaignID, userID) == GroupGhost
}

// RecordExposure counts one auction won by the campaign for userID,
// whether rendered or withheld.
func (e *Engine) RecordExposure(campaignID, userID string) {
	exp := e.experiment(campaignID)

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if e.assignLocked(exp, userID).Withheld() {
		exp.holdout.exposures++
		return
	}
	exp.treatment.exposures++
}

// RecordOutcome counts a conversion (or non-conversion) by userID attributed
// to the campaign.
func (e *Engine) RecordOutcome(campaignID, userID string, converted bool) {
	if !converted {
		return
	}
	exp := e.experiment(campaignID)

	exp.mu.Lock()
	defer exp.mu.Unlock()
	if e.assignLocked(exp, userID).Withheld() {
		exp.holdout.conversions++
		return
	}
	exp.treatment.conversions++
}

// IncrementalityScore returns the effective value multiplier of a campaign.
func (e *Engine) IncrementalityScore(campaignID string) float64 {
	exp := e.experiment(campaignID)
	exp.mu.Lock()
	defer exp.mu.Unlock()
	return e.incrementalityLocked(exp)
}

func (e *Engine) incrementalityLocked(exp *experiment) float64 {
	if exp.treatment.exposures < e.cfg.MinSample || exp.holdout.exposures < e.cfg.MinSample {
		return exp.prior
	}
	control := exp.holdout.rate()
	if control == 0 {
		if exp.treatment.rate() > 0 {
			return e.cfg.MaxIncrementality
		}
		return exp.prior
	}
	lift := exp.treatment.rate() / control
	if lift > e.cfg.MaxIncrementality {
		return e.cfg.MaxIncrementality
	}
	return lift
}

// Experiment returns a snapshot of a campaign's experiment without creating one.
func (e *Engine) Experiment(campaignID string) (Experiment, bool) {
	e.mu.Lock()
	exp, ok := e.experiments[campaignID]
	e.mu.Unlock()
	if !ok {
		return Experiment{}, false
	}
	return e.snapshot(exp), true
}

// Experiments returns snapshots of all experiments ordered by campaign.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	exps := make([]*experiment, 0, len(e.experiments))
	for _, exp := range e.experiments {
		exps = append(exps, exp)
	}
	e.mu.Unlock()

	out := make([]Experiment, 0, len(exps))
	for _, exp := range exps {
		out = append(out, e.snapshot(exp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out
}

func (e *Engine) snapshot(exp *experiment) Experiment {
	exp.mu.Lock()
	defer exp.mu.Unlock()
	return Experiment{
		ID:                  exp.id,
		CampaignID:          exp.campaignID,
		Start:               exp.start,
		End:                 exp.end,
		Members:             len(exp.members),
		TreatmentExposures:  exp.treatment.exposures,
		TreatmentConversion: exp.treatment.conversions,
		HoldoutExposures:    exp.holdout.exposures,
		HoldoutConversions:  exp.holdout.conversions,
		Incrementality:      e.incrementalityLocked(exp),
	}
}
