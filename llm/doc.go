// Package llm defines the completion and embedding capabilities the engine
// consumes, plus thin wrappers around them (rate limiting, token budgeting).
//
// The engine treats model clients as externally-owned, stateless services:
// every call is independent and retry policy belongs to the caller of the
// capability, not to this package.
package llm
