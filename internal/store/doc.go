// Package store keeps the run ledger: one row per scenario run, its step
// results and the diagnostics captured for a failing step.
//
// The ledger is append-only. A run id is written once; writing it again is
// a no-op, so a retried write after a partial failure cannot duplicate a run.
//
// # Ordering
//
// Every query orders explicitly. Runs sort by started_at, then run_id
// COLLATE BINARY; steps sort by step_index. Reports built from the ledger
// are therefore stable across reads.
//
// # Database Configuration
//
//   - WAL mode: report can read while run writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: step and diagnostic rows need their run
package store
