package agent

import "errors"

// Errors returned by Manager operations. Callers match them with errors.Is;
// the returned error may wrap additional detail.
var (
	// ErrInterpreterNotFound means no interpreter candidate validated.
	ErrInterpreterNotFound = errors.New("no usable Python interpreter found")

	// ErrSpawnFailed means the OS refused to create the agent process.
	ErrSpawnFailed = errors.New("failed to start agent process")

	// ErrNotRunning means the command needs a running agent.
	ErrNotRunning = errors.New("agent is not running")

	// ErrWriteFailed means the agent's input stream is closed or broken.
	ErrWriteFailed = errors.New("failed to write to agent")
)
