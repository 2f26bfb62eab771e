// Package testutil provides shared test doubles for the completion and
// embedding capabilities. It must only be imported from _test files.
package testutil
