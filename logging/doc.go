// Package logging provides a minimal logging interface and adapters for devmesh.
//
// Library packages accept a Logger and default to NoOpLogger. Binaries build a
// slog backed logger from configuration:
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Format: "json"})
//	mesh, err := devmesh.New(cfg, devmesh.WithLogger(logger))
//
// Messages are dotted event names ("agent.run.start", "delegation.failed")
// followed by key/value pairs.
package logging
