// Package auth authenticates callers of the HTTP API.
//
// Tokens are HS256 JWTs signed with platform.http.jwt_secret. The sub claim
// names the caller and the iss claim must be "coven-assistant". Mint one
// with:
//
//	coven-assistant token <subject>
//
// HTTPAuthMiddleware rejects requests without a valid token and stores the
// subject in the request context, where SubjectFromContext reads it back.
package auth
