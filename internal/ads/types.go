// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package ads

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAuction marks a failure inside the auction. It never reaches the feed;
// the auction degrades to "no winner" and carries the error in AuctionResult.Err.
var ErrAuction = errors.New("auction failed")

// AdCandidate is one ad competing for a slot.
type AdCandidate struct {
	// ID identifies the ad. Ties on bid are broken by ID ascending.
	ID string `json:"id" validate:"required"`

	// CampaignID groups ads for pacing and frequency caps. Empty means the
	// ad is its own campaign.
	CampaignID string `json:"campaign_id"`

	// Bid is the advertiser's per-impression bid.
	Bid float64 `json:"bid" validate:"finite,gte=0"`

	// Quality is the ad quality score in [0,1].
	Quality float64 `json:"quality" validate:"finite,gte=0,lte=1"`

	// Creatives are the interchangeable variants of the ad. The bandit picks
	// which one is served.
	Creatives []string `json:"creatives,omitempty"`

	// Features are passed to the CTR model.
	Features map[string]float64 `json:"features,omitempty"`
}

// BidDecimal returns the bid as a decimal amount.
func (c *AdCandidate) BidDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Bid)
}
