// Package runner is the invocation layer between the outer surfaces (HTTP,
// WebSocket, CLI) and the agent tree.
//
// A Runner holds the named entry agents, bounds the number of concurrent
// invocations, gives every invocation its own LLM call budget and runs the
// registered lifecycle callbacks around each agent run. Invocations are
// either synchronous (Invoke) or asynchronous (Start) with progress
// reporting and cancellation by run id.
package runner
