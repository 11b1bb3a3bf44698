// Package app is the orchestrator between the business repository, the
// sync manager and whatever presents state to the operator.
//
// It owns the observable UIState (loading flag, last message or error,
// last scan result, metadata counters) and runs the cloud sync that
// follows every successful mutation. Failures of that follow-up sync are
// logged and surfaced as a notice; they never fail the mutation itself.
//
// Startup sequence (Start):
//
//	initial metadata setup → load counters → SyncAll → load counters → record last sync
//
// Every operation returns a Result that carries either the value or a
// failure kind and message, so HTTP handlers and CLI commands can render
// outcomes without inspecting errors.
package app
