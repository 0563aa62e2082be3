// Package text converts assistant replies, written in Markdown, into what
// chat platforms accept: HTML for rich clients and flattened plain text
// for fallbacks and length-limited bodies.
package text
