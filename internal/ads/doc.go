// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package ads clears ad slots.

Components:

  - FrequencyManager: per-user impression counts with a per-campaign cap
    inside a fixed window and hour/day/week ceilings across campaigns
  - PacingController: proportional control of each campaign's spend rate
    against a linear daily budget curve
  - AuctionEngine: bid-ordered auction over the candidates left after
    filtering

Auction outline:

	candidates
	  -> validation and bid floor
	  -> FilterByBudgetPacing      (PAUSED_OVERSPEND removed)
	  -> FilterByFrequencyCaps     (per user)
	  -> quality >= threshold
	  -> sort by bid desc, id asc  (first is the winner)

The winner pays its own bid unless ChargeSecondPrice is set, in which case it
pays the clearing price: the next-highest bid, no lower than the reserve.
EffectiveValue (bid x pace x incrementality x predicted CTR) is reported
with every ranked ad but does not change the order.

Money is handled with shopspring/decimal. Pacing state is serialized per
campaign and frequency state per user.
*/
package ads
