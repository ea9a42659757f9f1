// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent groups the components of the delegation runtime.

# Overview

A delegator hands a task to a delegatee under a DelegationContract. The
subpackages cover each stage of that hand-off:

	┌─────────────────────────────────────────────────────────────┐
	│                          runtime                            │
	│     (Propose, Execute, Delegate, SubDelegate, Shutdown)     │
	├───────────────┬───────────────┬───────────────┬─────────────┤
	│   discovery   │   admission   │   execution   │observability│
	│  manifests,   │  capability,  │  retries,     │ telemetry,  │
	│  queries,     │  reputation,  │  checkpoints, │ chains,     │
	│  assessment   │  resources    │  verification │ anomalies   │
	├───────────────┴───────────────┴───────────────┴─────────────┤
	│          contract (state machine)  ·  lifecycle (hub)       │
	└─────────────────────────────────────────────────────────────┘

# Subpackages

  - contract: DelegationContract, its status machine and chain identity
  - discovery: CapabilityRegistry and the self-assessment Assessor
  - admission: Engine running the ordered admission checks
  - execution: Engine with retry, checkpoints and verification
  - observability: Collector, sinks, chain analysis and anomalies
  - lifecycle: the event hub connecting the engines
  - runtime: wires the engines into a single Runtime
*/
package agent
