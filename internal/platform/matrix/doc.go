// Package matrix is the Matrix chat platform.
//
// The adapter answers messages sent in direct rooms, messages that mention
// the bot and messages starting with the configured command prefix. Each
// reply the bot posts becomes the context key for the conversation, so
// replying to it continues the thread. Storage keys are scoped to the room.
//
// Turns in one room run one at a time. The conversation is saved only after
// the reply event has been accepted by the homeserver.
//
// Encryption is optional and backed by mautrix cryptohelper. The crypto
// store is reset automatically when a new login produces a new device ID.
package matrix
