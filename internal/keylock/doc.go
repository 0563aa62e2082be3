// Package keylock provides a mutex per string key.
//
// Platform adapters lock on the context key of a thread before restoring
// its conversation and release after saving, so two replies to the same
// message never fork the history. Different keys proceed in parallel.
package keylock
