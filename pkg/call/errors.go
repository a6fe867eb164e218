package call

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyJoined is returned when the session is already in the room.
	ErrAlreadyJoined = errors.New("already joined")
	// ErrPeerNotFound is returned for sessions that are not (or no longer) in the room.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrRoomNotFound is returned for unknown room ids.
	ErrRoomNotFound = errors.New("room not found")
	// ErrEngineFailure wraps errors of the media engine.
	ErrEngineFailure = errors.New("media engine failure")
	// ErrLeftWhileJoining is returned by a join when the same session
	// has left before the join has finished.
	ErrLeftWhileJoining = errors.New("left while joining")
	// ErrRoomClosed is returned by joins into a room that has just been removed,
	// such joins should go through the registry again.
	ErrRoomClosed = errors.New("room closed")
)

func engineError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEngineFailure, op, err)
}

// invariant panics when the room state has been broken, which only
// happens when the room lock was not respected.
func invariant(ok bool, format string, args ...any) {
	if !ok {
		panic("call: invariant violation: " + fmt.Sprintf(format, args...))
	}
}
