// Package syncmirror keeps a local staging copy of a project in step with
// its home on a network share.
//
// [Mirror.Diff] compares two trees by relative path, size and modification
// time; [Mirror.Apply] carries out the resulting copies and deletes one by
// one, logging and counting failures instead of returning them. The four
// sync entry points differ only in direction:
//
//	SyncDown, InitialSync   network -> local
//	SyncUp,   FinalSync     local   -> network
//
// Each returns a plain bool and records a line in the capped sync log at
// <local>/.sync_log.json.
//
// Whether mirroring applies at all is decided by the caller, typically with
// [RequiresMirroring].
//
// The package does no internal locking; callers must not run two syncs
// over the same trees at once.
package syncmirror
