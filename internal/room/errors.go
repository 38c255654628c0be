package room

import "errors"

var (
	// ErrRoomNotFound means no room with the given public id exists, live or
	// durable.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSongNotFound means the song id is not present in the room's playlist.
	ErrSongNotFound = errors.New("song not found")

	// ErrRoomClosed means the room's actor was evicted while a command was
	// waiting on it. Callers may retry; the registry will revive the actor.
	ErrRoomClosed = errors.New("room closed")

	// ErrInvalidCommand means a decoded command failed validation before
	// reaching any actor. The offending client gets the rejection; room state
	// is untouched.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrDuplicateID means a room insert lost a race for a public id that had
	// passed the existence check. CreateRoom treats it as one more collision
	// and draws a fresh id.
	ErrDuplicateID = errors.New("public id already taken")

	// ErrIDExhausted means public id generation kept colliding past the retry
	// limit. This indicates a capacity or configuration problem, not a
	// user-recoverable condition.
	ErrIDExhausted = errors.New("public id space exhausted")
)
