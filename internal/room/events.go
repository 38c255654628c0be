package room

import "context"

// Topic suffixes. The transport layer addresses deliveries as
// room/{publicId}/{topic} so subscribers can filter per room and per concern.
// The names mirror the websocket destinations the frontend already speaks.
const (
	TopicSongs    = "songs"
	TopicRemoved  = "songRemoved"
	TopicPlayback = "playbackState"
	TopicNextSong = "nextSong"
	TopicCreated  = "created"
)

const (
	EventRoomCreated    = "room.created"
	EventSongAdded      = "song.added"
	EventSongRemoved    = "song.removed"
	EventPlaybackSynced = "playback.state"
	EventNextSongHint   = "song.next"
)

// Event is a state delta emitted by an actor, in the order the causing
// commands were applied.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Broadcaster delivers an event to every current subscriber of a room.
// Delivery is best-effort and fire-and-forget: the actor does not wait for
// acknowledgement and never retries, so a publish failure must be swallowed
// (and at most logged) by the implementation.
type Broadcaster interface {
	Publish(roomID, topic string, ev Event)
}

// Resolver enriches a bare source reference with human-readable metadata.
// Implementations must honor ctx deadlines; any failure is recoverable and
// degrades to placeholder metadata on the caller's side.
type Resolver interface {
	Resolve(ctx context.Context, sourceRef string) (title, artist string, err error)
}

// Store is the durable repository for rooms and songs. The actor treats it
// as an external collaborator: reads back a room on revival, writes through
// on mutation.
type Store interface {
	CreateRoom(ctx context.Context, rec Record) error
	RoomExists(ctx context.Context, publicID string) (bool, error)
	FindRoom(ctx context.Context, publicID string) (Record, []Song, error)
	InsertSong(ctx context.Context, publicID string, s Song) error
	DeleteSong(ctx context.Context, publicID, songID string) error
}
