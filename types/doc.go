// Package types holds the shared primitives of QuorumFlow: the unified
// error taxonomy and token accounting.
//
// It is the lowest-level package in the module and must not import any
// other quorumflow package, so every other package can depend on it
// without creating import cycles.
package types
