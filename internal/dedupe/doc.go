// Package dedupe filters redelivered events. Matrix may hand the same
// event to a sync loop more than once; the adapter asks Cache.Seen before
// starting a turn.
package dedupe
