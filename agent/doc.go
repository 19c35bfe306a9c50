// Package agent contains the devmesh agents:
//
//  1. Role agents: CodeExecutionAgent, DevelopingAgent and the Orchestrator
//     (human interaction agent)
//  2. Workflow agents: SequentialAgent, ParallelAgent and LoopAgent
//  3. ModelAgent, a generic inference-backed agent for use inside workflows
//
// Every agent implements core.Agent. Composite agents depend only on that
// interface; whether a child is backed by inference or by deterministic
// scaffold logic is invisible to them. Sub-agents are always called through
// core.Invoke or the delegation protocol, so panics and stray errors never
// escape a composition boundary.
//
// Workflow trees can also be declared in YAML and built with LoadPipeline.
package agent
