// Package core provides the foundational domain types and interfaces used by
// devmesh. It defines the core abstractions for:
//
//   - Agents (units of work exposing Run(ctx, Request) (Result, error))
//   - Requests and Results (open key/value bags with a mandatory status)
//   - Sessions (namespaced shared state plus append-only coordination logs)
//   - Events (units emitted by a streaming inference capability)
//   - Capabilities (inference, artifact storage) consumed through narrow interfaces
//
// The package keeps implementation concerns (persistence backends, concrete
// agents, transports) out of scope. Composition code in other packages depends
// only on the interfaces defined here.
package core
