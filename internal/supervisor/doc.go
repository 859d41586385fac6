// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

/*
Package supervisor runs the long-lived loops of the engine under suture v4.

	RootSupervisor ("feedrank")
	├── ServingSupervisor ("serving-layer")
	│   ├── inference-orchestrator (batch loop)
	│   └── model-monitor
	├── ControlSupervisor ("control-layer")
	│   ├── budget-pacing
	│   ├── frequency-cleanup
	│   ├── feed-cleanup
	│   ├── bandit-persist
	│   └── badger-gc
	├── DataSupervisor ("data-layer")
	│   └── event-logger
	└── APISupervisor ("api-layer")
	    └── http-server

Each layer restarts independently with backoff. Supervisor events are logged
through sutureslog into the zerolog logger (see logging.NewSlogLogger).

Example:

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddServingService(services.NewRunnerService("inference-orchestrator", orch.Run))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
