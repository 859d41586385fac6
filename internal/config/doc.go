// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package config loads and validates Feedrank configuration.

Configuration is layered with Koanf v2. Built-in defaults come first, then an
optional YAML file, then environment variables:

	CONFIG_PATH=/etc/feedrank/config.yaml
	AUCTION_QUALITY_THRESHOLD=0.4      # auction.quality_threshold
	PACING_KP=0.8                      # pacing.kp
	RECOMMEND_GENERATORS=covisit       # comma-separated list
	NATS_URL=nats://nats:4222          # alias of events.nats_url
	EVENTS_NATS_EMBEDDED=true          # serve JetStream in-process on nats_url
	LOG_LEVEL=debug                    # alias of logging.level

Any variable named SECTION_FIELD addresses section.field for the sections
server, logging, serving, cache, monitor, features, recommend, frequency,
pacing, bandit, causal, auction, events, feed and supervisor. Other variables
are ignored.

Example file:

	auction:
	  reserve_price: 0.02
	  charge_second_price: true
	serving:
	  models:
	    - name: engagement
	      path: /models/engagement.json
	      class: engagement
*/
package config
