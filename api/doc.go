// Package api documents the delegation HTTP API served by delegationd.
//
// # API Overview
//
// delegationd exposes a RESTful API for:
//   - Capability manifests: register, inspect, update and remove agents
//   - Capability queries ranked by confidence, workload and availability
//   - Contract evaluation through admission control
//   - Telemetry: event history, delegation chains, anomalies and
//     per-agent performance
//   - Health monitoring and Prometheus metrics
//
// # Authentication
//
// When API keys are configured, endpoints under /api/ require the
// X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret is configured, a bearer token signed with HS256 is
// accepted instead:
//
//	Authorization: Bearer <token>
//
// /health, /healthz, /ready and /metrics are never authenticated.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// Metrics are served on a separate listener, by default:
//
//	http://localhost:9091/metrics
//
// # Response Envelope
//
// Every JSON response is wrapped in the same envelope:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "AGENT_NOT_FOUND", "message": "..."}, "timestamp": "..."}
//
// A rejected contract evaluation is not an error: it returns 200 with
// decision.can_accept set to false.
package api
