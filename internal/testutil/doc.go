// Package testutil contains builders and fakes shared by tests: scripted
// agents, event builders, scripted inference and pre-seeded session stores.
// Not intended for production use.
package testutil
