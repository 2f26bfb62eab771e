// Package rag implements metadata-boosted semantic retrieval: query intent
// extraction, staged vector search with graceful fallback across scopes,
// similarity calibration, and token-budgeted context assembly.
//
// Retrieval is ranking-based throughout; no similarity cutoff is applied
// anywhere downstream of calibration.
package rag
