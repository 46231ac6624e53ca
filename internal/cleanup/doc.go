// Package cleanup runs the scheduled reconciliation sweeps.
//
// Three idempotent sweeps keep local records and remote identities
// converged: expired authorized keys are hard-deleted, idle sessions are
// deactivated once their remote identity is released, and inactive sessions
// are reconciled against the identity system and then removed. Each sweep
// commits its own work so a failure in one never blocks the others.
package cleanup
