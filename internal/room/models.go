package room

import (
	"time"
)

// Placeholder metadata used when enrichment is unavailable or pending.
const (
	UnknownTitle  = "Unknown Title"
	UnknownArtist = "Unknown Artist"
)

// Song is one entry of a room's playlist. The id is generated on insertion
// and never reused; insertion order equals play order.
type Song struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	SourceRef string    `json:"sourceRef,omitempty"` // provider video id, e.g. YouTube
	AddedBy   string    `json:"addedBy,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

// SongDraft is the client-supplied part of an AddSong command. Missing
// title/artist are filled by metadata resolution or placeholders.
type SongDraft struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	SourceRef string `json:"sourceRef"`
	AddedBy   string `json:"addedBy"`
}

// PlaybackState is a last-write-wins snapshot of the room's player. It
// carries no history; whichever client asserted it last is the leader.
type PlaybackState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"` // seconds into the active video
	VideoID     string  `json:"videoId"`
	TriggeredBy string  `json:"triggeredBy"`
	EventType   string  `json:"eventType"` // "sync", "play", "pause", "seek"
}

// NextSongHint is an opaque "track ended, about to advance" notice relayed
// between clients without touching room state.
type NextSongHint struct {
	NextSongID  string `json:"nextSongId"`
	TriggeredBy string `json:"triggeredBy"`
}

// Record is the durable identity of a room. Songs and playback live on the
// actor; the record is what the repository persists.
type Record struct {
	PublicID  string    `json:"publicId"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is a point-in-time copy of a room for the read surface. Clients
// joining mid-session fetch it to reconcile before relying on broadcasts.
type Snapshot struct {
	PublicID  string        `json:"publicId"`
	Name      string        `json:"name,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Songs     []Song        `json:"songs"`
	Playback  PlaybackState `json:"playback"`
}

// state is the mutable heart of one room. It is owned exclusively by the
// actor goroutine; nothing outside the actor loop may touch it.
type state struct {
	record   Record
	songs    []Song
	playback PlaybackState
}
