// Package memory keeps long-term knowledge that outlives a session. Entries
// are scoped by user and found again by keyword search. The package also
// provides the save_memory and load_memory tools that expose a Store to
// agents.
package memory
