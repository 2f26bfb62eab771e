// Package orchestrator drives the two top-level flows: the single-pass
// RAG pipeline (research, generate, ground, explain) and the council
// pipeline (concurrent voter dispatch, strategy aggregation, optional
// debate rounds, consensus metrics). It also owns the cross-cutting
// concerns around those flows: progress events, prometheus
// instrumentation, and result persistence.
package orchestrator
