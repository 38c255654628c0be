package room

import (
	"context"
	"fmt"
	"strings"
)

const (
	maxNameLen   = 200
	maxTitleLen  = 300
	maxArtistLen = 200
)

// Router is the boundary-facing entry point for decoded commands: it
// validates them, resolves the target actor through the registry and hands
// off. The transport layer (HTTP and websocket alike) only ever talks to the
// router, never to actors directly.
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

func (r *Router) CreateRoom(ctx context.Context, name string) (Record, error) {
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		return Record{}, fmt.Errorf("%w: name is too long", ErrInvalidCommand)
	}
	return r.reg.CreateRoom(ctx, name)
}

func (r *Router) GetRoom(ctx context.Context, publicID string) (Snapshot, error) {
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return Snapshot{}, err
	}
	return actor.Snapshot(ctx)
}

func (r *Router) AddSong(ctx context.Context, publicID string, draft SongDraft) (Song, error) {
	if len(draft.Title) > maxTitleLen {
		return Song{}, fmt.Errorf("%w: title is too long", ErrInvalidCommand)
	}
	if len(draft.Artist) > maxArtistLen {
		return Song{}, fmt.Errorf("%w: artist is too long", ErrInvalidCommand)
	}
	if strings.TrimSpace(draft.Title) == "" && strings.TrimSpace(draft.SourceRef) == "" {
		return Song{}, fmt.Errorf("%w: either title or sourceRef is required", ErrInvalidCommand)
	}
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return Song{}, err
	}
	return actor.AddSong(ctx, draft)
}

func (r *Router) RemoveSong(ctx context.Context, publicID, songID string) error {
	if strings.TrimSpace(songID) == "" {
		return fmt.Errorf("%w: missing song id", ErrInvalidCommand)
	}
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return err
	}
	return actor.RemoveSong(ctx, songID)
}

func (r *Router) AdvanceToNext(ctx context.Context, publicID, requestedBy string) (Song, bool, error) {
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return Song{}, false, err
	}
	return actor.AdvanceToNext(ctx, requestedBy)
}

func (r *Router) SyncPlayback(ctx context.Context, publicID string, ps PlaybackState) error {
	switch ps.EventType {
	case "":
		ps.EventType = "sync"
	case "sync", "play", "pause", "seek":
	default:
		return fmt.Errorf("%w: unknown playback event type %q", ErrInvalidCommand, ps.EventType)
	}
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return err
	}
	return actor.SyncPlayback(ctx, ps)
}

func (r *Router) RelayNextSongHint(ctx context.Context, publicID string, hint NextSongHint) error {
	actor, err := r.actor(ctx, publicID)
	if err != nil {
		return err
	}
	return actor.RelayNextSongHint(ctx, hint)
}

// Subscribe pins a room live for a new broadcast subscriber; Unsubscribe
// releases it so the idle sweeper can reclaim the actor.
func (r *Router) Subscribe(ctx context.Context, publicID string) error {
	if strings.TrimSpace(publicID) == "" {
		return fmt.Errorf("%w: missing room id", ErrInvalidCommand)
	}
	return r.reg.Retain(ctx, publicID)
}

func (r *Router) Unsubscribe(publicID string) {
	r.reg.Release(publicID)
}

func (r *Router) actor(ctx context.Context, publicID string) (*Actor, error) {
	if strings.TrimSpace(publicID) == "" {
		return nil, fmt.Errorf("%w: missing room id", ErrInvalidCommand)
	}
	return r.reg.GetOrCreate(ctx, publicID)
}
