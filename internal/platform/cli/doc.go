// Package cli is the terminal chat platform.
//
// The conversation lives in memory for the length of the session and is
// never written to storage. Branching forks the session onto a new
// conversation id holding a prefix of the history.
package cli
