// Package workflow provides the building blocks for multi-step remote
// operations: an ordered step runner with compensation (undo) support,
// and a bounded poller for waiting on asynchronous remote state changes.
//
// A workflow is an ordered list of Steps. Each step pairs a forward
// action with an optional compensating action. The Runner executes the
// forward actions in order; if one fails, the compensations recorded so
// far are executed in reverse order, best-effort, and the original
// failure is returned wrapped with the workflow name and instance
// identity.
package workflow
