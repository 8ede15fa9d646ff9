// Package testutil provides test utilities for kpisim, including:
//   - Miniredis helpers for the broadcast relay (miniredis.go)
//   - sqlmock-backed database handles for storage tests (sqlmock.go)
//   - Record file fixtures (fixtures.go)
//
// None of the helpers need external services.
package testutil
