// Package subsumption owns single-level priority arbitration between behaviors.
//
// Ownership boundary:
// - behavior lifecycle contract (CanRun/Run/Stop)
// - per-tick winner selection and suppression
// - the arbitration loop and its cancellation
//
// Tick order:
// - load one perception snapshot
// - poll CanRun by priority until the first true (go-behaviortree Selector)
// - Stop the previous winner if it lost, then Run the new winner
//
// A behavior that keeps winning is run every tick and never stopped in
// between. Lower-priority behaviors that could have run receive neither call.
//
// Failures from a behavior (errors, recovered panics, precondition
// violations) end the loop after the active behavior is stopped; the caller
// decides whether to restart.
package subsumption
