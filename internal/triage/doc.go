// Package triage provides the business boundary for Aegis's alert triage
// pipeline. It defines the Service (dedup, concurrency limits, async runs),
// Coordinator (backend fan-out with deadline budgets), Aggregator (pure
// verdict scoring), Store interface (persistence), and domain models.
package triage
