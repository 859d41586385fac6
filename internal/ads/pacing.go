// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomtom215/feedrank/internal/metrics"
)

// ErrInvalidBudget is returned when a campaign is registered with a budget <= 0.
var ErrInvalidBudget = errors.New("campaign budget must be positive")

// PacingStatus summarizes how far a campaign is through its daily budget.
type PacingStatus string

const (
	StatusNormal          PacingStatus = "NORMAL"
	StatusThrottled       PacingStatus = "THROTTLED"
	StatusPausedOverspend PacingStatus = "PAUSED_OVERSPEND"
)

// PacingConfig configures the proportional pacing controller.
type PacingConfig struct {
	// Interval is the period of the control loop.
	Interval time.Duration

	// Kp is the proportional gain applied to the normalized spend error.
	Kp float64

	// MinOutput and MaxOutput bound the pace multiplier.
	MinOutput float64
	MaxOutput float64

	// ThrottleRatio and PauseRatio are spent/budget thresholds. Both are strict.
	ThrottleRatio float64
	PauseRatio    float64

	// DayLength is the budget period. Spend resets when it elapses.
	DayLength time.Duration
}

// DefaultPacingConfig returns the production controller settings.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		Interval:      60 * time.Second,
		Kp:            0.5,
		MinOutput:     0.1,
		MaxOutput:     2.0,
		ThrottleRatio: 0.9,
		PauseRatio:    1.0,
		DayLength:     24 * time.Hour,
	}
}

// CampaignPacing is a snapshot of one campaign's pacing state.
type CampaignPacing struct {
	CampaignID string          `json:"campaign_id"`
	Budget     decimal.Decimal `json:"budget"`
	Spent      decimal.Decimal `json:"spent"`
	Pace       float64         `json:"pace"`
	Status     PacingStatus    `json:"status"`
	DayStart   time.Time       `json:"day_start"`
	LastUpdate time.Time       `json:"last_update"`
}

// campaignState holds mutable pacing state. Spend and pace change together
// under mu.
type campaignState struct {
	mu         sync.Mutex
	budget     decimal.Decimal
	spent      decimal.Decimal
	pace       float64
	dayStart   time.Time
	lastUpdate time.Time
}

// PacingController maintains pacing multipliers for registered campaigns.
type PacingController struct {
	cfg    PacingConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	campaigns map[string]*campaignState
}

// NewPacingController creates a pacing controller.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPacingController(cfg PacingConfig, logger zerolog.Logger) *PacingController {
	def := DefaultPacingConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DayLength <= 0 {
		cfg.DayLength = def.DayLength
	}
	if cfg.Kp <= 0 {
		cfg.Kp = def.Kp
	}
	if cfg.MaxOutput <= 0 || cfg.MaxOutput < cfg.MinOutput {
		cfg.MinOutput, cfg.MaxOutput = def.MinOutput, def.MaxOutput
	}
	if cfg.ThrottleRatio <= 0 {
		cfg.ThrottleRatio = def.ThrottleRatio
	}
	if cfg.PauseRatio <= 0 {
		cfg.PauseRatio = def.PauseRatio
	}
	return &PacingController{
		cfg:       cfg,
		logger:    logger.With().Str("component", "pacing").Logger(),
		now:       time.Now,
		campaigns: make(map[string]*campaignState),
	}
}

// Interval returns the control loop period.
func (p *PacingController) Interval() time.Duration {
	return p.cfg.Interval
}

// RegisterCampaign sets the daily budget of a campaign. Re-registering keeps
// the current spend and day start.
func (p *PacingController) RegisterCampaign(campaignID string, budget decimal.Decimal) error {
	if !budget.IsPositive() {
		return fmt.Errorf("%w: %s has budget %s", ErrInvalidBudget, campaignID, budget)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.campaigns[campaignID]; ok {
		st.mu.Lock()
		st.budget = budget
		st.mu.Unlock()
		return nil
	}
	now := p.now()
	p.campaigns[campaignID] = &campaignState{
		budget:     budget,
		spent:      decimal.Zero,
		pace:       1.0,
		dayStart:   now,
		lastUpdate: now,
	}
	metrics.CampaignPace.WithLabelValues(campaignID).Set(1.0)
	return nil
}

// RemoveCampaign stops tracking a campaign.
func (p *PacingController) RemoveCampaign(campaignID string) {
	p.mu.Lock()
	delete(p.campaigns, campaignID)
	p.mu.Unlock()
	metrics.CampaignPace.DeleteLabelValues(campaignID)
}

func (p *PacingController) state(campaignID string) *campaignState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.campaigns[campaignID]
}

// RecordSpend adds a charged amount to a campaign. Unknown campaigns are ignored.
func (p *PacingController) RecordSpend(campaignID string, amount decimal.Decimal) {
	st := p.state(campaignID)
	if st == nil || !amount.IsPositive() {
		return
	}
	now := p.now()
	st.mu.Lock()
	p.rolloverLocked(st, now)
	st.spent = st.spent.Add(amount)
	st.mu.Unlock()
}

// rolloverLocked starts a new budget period when the current one has elapsed.
func (p *PacingController) rolloverLocked(st *campaignState, now time.Time) {
	elapsed := now.Sub(st.dayStart)
	if elapsed < p.cfg.DayLength {
		return
	}
	periods := elapsed / p.cfg.DayLength
	st.dayStart = st.dayStart.Add(periods * p.cfg.DayLength)
	st.spent = decimal.Zero
	st.pace = 1.0
}

// ComputePace applies the proportional control law. The result always lies
// in [MinOutput, MaxOutput].
func (p *PacingController) ComputePace(budget, spent decimal.Decimal, elapsed time.Duration) float64 {
	if !budget.IsPositive() {
		return p.cfg.MinOutput
	}
	frac := decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(p.cfg.DayLength.Milliseconds()))
	expected := budget.Mul(frac)
	errNorm := expected.Sub(spent).Div(budget).InexactFloat64()
	return clamp(1+errNorm*p.cfg.Kp, p.cfg.MinOutput, p.cfg.MaxOutput)
}

// Update recomputes the pace of every campaign. It is the body of the
// periodic control loop.
func (p *PacingController) Update() {
	now := p.now()

	p.mu.RLock()
	ids := make([]string, 0, len(p.campaigns))
	states := make([]*campaignState, 0, len(p.campaigns))
	for id, st := range p.campaigns {
		ids = append(ids, id)
		states = append(states, st)
	}
	p.mu.RUnlock()

	for i, st := range states {
		st.mu.Lock()
		p.rolloverLocked(st, now)
		st.pace = p.ComputePace(st.budget, st.spent, now.Sub(st.dayStart))
		st.lastUpdate = now
		pace := st.pace
		st.mu.Unlock()
		metrics.CampaignPace.WithLabelValues(ids[i]).Set(pace)
	}
	p.logger.Debug().Int("campaigns", len(states)).Msg("pacing updated")
}

// Run drives Update on the configured interval until ctx is cancelled.
func (p *PacingController) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Update()
		}
	}
}

func (p *PacingController) statusLocked(st *campaignState) PacingStatus {
	ratio := st.spent.Div(st.budget).InexactFloat64()
	switch {
	case ratio > p.cfg.PauseRatio:
		return StatusPausedOverspend
	case ratio > p.cfg.ThrottleRatio:
		return StatusThrottled
	default:
		return StatusNormal
	}
}

// GetPacingStatus returns the status of a campaign. Unknown campaigns are NORMAL.
func (p *PacingController) GetPacingStatus(campaignID string) PacingStatus {
	st := p.state(campaignID)
	if st == nil {
		return StatusNormal
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p.rolloverLocked(st, p.now())
	return p.statusLocked(st)
}

// Pace returns the current multiplier of a campaign. Unknown campaigns pace at 1.
func (p *PacingController) Pace(campaignID string) float64 {
	st := p.state(campaignID)
	if st == nil {
		return 1.0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pace
}

// Snapshot returns the pacing state of one campaign.
func (p *PacingController) Snapshot(campaignID string) (CampaignPacing, bool) {
	st := p.state(campaignID)
	if st == nil {
		return CampaignPacing{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p.rolloverLocked(st, p.now())
	return CampaignPacing{
		CampaignID: campaignID,
		Budget:     st.budget,
		Spent:      st.spent,
		Pace:       st.pace,
		Status:     p.statusLocked(st),
		DayStart:   st.dayStart,
		LastUpdate: st.lastUpdate,
	}, true
}

// Campaigns returns snapshots of every campaign ordered by id.
func (p *PacingController) Campaigns() []CampaignPacing {
	p.mu.RLock()
	ids := make([]string, 0, len(p.campaigns))
	for id := range p.campaigns {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)

	out := make([]CampaignPacing, 0, len(ids))
	for _, id := range ids {
		if snap, ok := p.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// FilterByBudgetPacing removes PAUSED_OVERSPEND campaigns. Throttled
// campaigns stay eligible.
func (p *PacingController) FilterByBudgetPacing(candidates []AdCandidate) []AdCandidate {
	out := make([]AdCandidate, 0, len(candidates))
	for i := range candidates {
		if p.GetPacingStatus(candidates[i].CampaignID) != StatusPausedOverspend {
			out = append(out, candidates[i])
		}
	}
	metrics.RecordFiltered("pacing", len(candidates)-len(out))
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
