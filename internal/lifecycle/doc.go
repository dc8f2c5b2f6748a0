// Package lifecycle implements the instance lifecycle workflows:
// spawn, destroy, power management, snapshot, cold resize with
// migration, and live migration. Each workflow is an ordered list of
// steps with compensating actions, so a failure part way through
// unwinds whatever was already built.
package lifecycle
