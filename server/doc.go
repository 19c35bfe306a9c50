// Package server exposes the agent mesh over HTTP and WebSocket.
//
// Routes:
//
//	GET  /health
//	POST /orchestrate                  run the orchestrator
//	POST /execute                      run the code execution agent
//	POST /session/new                  create a session
//	GET  /session/:id                  session summary
//	DELETE /session/:id                close a session
//	GET  /session/:id/artifacts        list artifacts
//	GET  /session/:id/artifacts/:name  download an artifact (?version=n)
//	GET  /metrics                      Prometheus metrics
//	GET  /ws                           WebSocket protocol
//
// Agent results are always returned with HTTP 200 and a status field, the
// same shape the agents produce. Transport problems (bad JSON, unknown
// sessions, rate limits) use HTTP status codes.
package server
