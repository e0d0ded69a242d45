package resolver

import (
	"errors"
	"fmt"
)

// Sentinel failure classes for channel resolution. Callers branch on
// these with errors.Is; the wrapping ResolutionError carries the key.
var (
	// ErrNotFound means the channel, connection or client state was
	// absent on the source chain.
	ErrNotFound = errors.New("not found")

	// ErrTimeout means a remote state lookup exceeded its deadline.
	ErrTimeout = errors.New("lookup timed out")

	// ErrNoEndpoint means no usable REST endpoint is registered for
	// the source chain.
	ErrNoEndpoint = errors.New("no endpoint for chain")
)

// ResolutionError is a typed failure for one (chain, channel, port)
// resolution. Resolver errors are never swallowed: they gate a
// user-facing channel mapping.
type ResolutionError struct {
	ChainID   string
	ChannelID string
	PortID    string
	Step      string // channel, connection, client_state
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf(
		"resolving %s/%s port %s (%s): %v",
		e.ChainID, e.ChannelID, e.PortID, e.Step, e.Err,
	)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
