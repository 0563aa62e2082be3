// Package api is the HTTP JSON platform.
//
// Routes:
//
//	GET  /health                   liveness, no auth
//	GET  /api/tools                registered tools with their parameter schemas
//	POST /api/chat                 run one turn
//	GET  /api/conversations/{id}   stored conversation history
//
// Every /api route requires a bearer JWT when platform.http.jwt_secret is set.
//
// Each chat reply carries a fresh context key. Sending that key back with the
// next request continues the conversation; the previous key stops resolving
// once the conversation has moved on. Requests for the same key are handled
// one at a time.
//
// Language model outages map to 502. Every other failure is a 500 with a
// generic message; details go to the log.
package api
