// Package entitystream is a real-time event distribution and correlation
// engine for typed domain entities.
//
// # Architecture
//
// Producers publish entity lifecycle events through the gateway or the
// engine API. Every event then travels two independent paths:
//
// Delivery path (guaranteed):
//   - queue: priority-routed delivery queue with debounced batching,
//     exponential-backoff retry, and delivery signals
//   - transport: fan-out hub with a bounded replay buffer, serving
//     WebSocket and SSE subscribers through filter matching
//   - natsclient: optional NATS bus for inter-process distribution
//
// Analysis path (best-effort):
//   - correlate: per-entity event grouping, workflow pattern detection,
//     anomaly detection, and human-readable insight derivation
//
// The engine package composes both paths behind one facade; the gateway
// package exposes them over HTTP. Ambient concerns live in config
// (YAML + env + hot reload), errors (classified errors), metric
// (Prometheus), and health (sanitized status reporting).
//
// Supporting building blocks sit under pkg/: a generic bounded ring
// buffer (pkg/buffer) and exponential backoff helpers (pkg/retry).
package entitystream
