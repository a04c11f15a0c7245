package chat

import "github.com/pkg/errors"

// Sentinel errors surfaced to the API layer. Everything else coming out of
// the service is treated as an internal error.
var (
	// ErrNotFound covers both missing records and ownership mismatches on
	// query paths, so callers cannot probe for other users' chats.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAgentUnavailable means the agent capability failed to initialize at
	// startup. It is terminal until the process restarts.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrNotSupported marks an interaction against a message that cannot
	// carry a weight. Defensive: should not occur with consistent data.
	ErrNotSupported = errors.New("interaction not supported for this message")
)
