// Package snapshot stores point-in-time zip archives of a project tree and
// keeps the per-step run numbering that the undo trail is built on.
//
// A complete archive named N lives at <dir>/N_complete.zip and captures the
// whole project except the snapshot directory and any configured
// exclusions. The archive taken immediately before run n of step id is
// named by [RunName] ("{id}_run_{n}"); run numbers of a step always form the
// contiguous range 1..[Store.EffectiveRunNumber].
//
// Selective archives (<dir>/{id}.zip) cover only an explicit path list and
// exist for compatibility with older project layouts.
package snapshot
