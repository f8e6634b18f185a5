package showrunner

// The Runner implementation is split across several files:
//
// - stage_types.go: data model, RunnerConfig and the Runner struct
// - stage_director_methods.go: construction, lifecycle and demo/scene loops
// - stage_interactions.go: step execution, retries, waits and framing
// - stage_error_handling.go: collaborator timeouts, panic recovery and metrics
// - events.go: progress event fan-out
// - dispatcher.go / verifier.go: collaborator interfaces and success checks
