// Package artifact contains concrete implementations of core.ArtifactStore.
//
// Artifacts are versioned per session and name: saving an existing name adds
// a new version and loading version 0 returns the latest. The in-memory store
// serves tests and single process deployments; the s3 sub-package persists
// artifacts to S3 or any S3 compatible object store.
package artifact
