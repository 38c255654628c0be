package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	publicIDLength  = 8
	publicIDRetries = 5

	defaultResolveTimeout = 3 * time.Second
	defaultStoreTimeout   = 5 * time.Second
	defaultIdleWindow     = 10 * time.Minute
	defaultSweepInterval  = 30 * time.Second
)

// RegistryConfig tunes actor lifecycle; zero values fall back to defaults.
type RegistryConfig struct {
	ResolveTimeout time.Duration
	StoreTimeout   time.Duration
	IdleWindow     time.Duration
	SweepInterval  time.Duration
}

// Registry maps public room ids to live actors and owns their lifecycle:
// atomic get-or-create, explicit creation with collision-checked ids, and
// idle eviction. At most one live actor exists per public id.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Actor

	store    Store
	resolver Resolver
	bcast    Broadcaster
	cfg      RegistryConfig
}

func NewRegistry(store Store, resolver Resolver, bcast Broadcaster, cfg RegistryConfig) *Registry {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Registry{
		rooms:    make(map[string]*Actor),
		store:    store,
		resolver: resolver,
		bcast:    bcast,
		cfg:      cfg,
	}
}

func (g *Registry) deps() actorDeps {
	return actorDeps{
		store:          g.store,
		resolver:       g.resolver,
		bcast:          g.bcast,
		resolveTimeout: g.cfg.ResolveTimeout,
		storeTimeout:   g.cfg.StoreTimeout,
	}
}

// CreateRoom draws a short public id, retrying on collision against both the
// live map and the store, persists the record and spawns its actor.
func (g *Registry) CreateRoom(ctx context.Context, name string) (Record, error) {
	var rec Record
	for attempt := 0; attempt < publicIDRetries; attempt++ {
		candidate := uuid.NewString()[:publicIDLength]

		g.mu.RLock()
		_, live := g.rooms[candidate]
		g.mu.RUnlock()
		if live {
			continue
		}
		if g.store != nil {
			exists, err := g.store.RoomExists(ctx, candidate)
			if err != nil {
				return Record{}, fmt.Errorf("check public id: %w", err)
			}
			if exists {
				log.Warn().Str("publicId", candidate).Msg("room: public id collision, retrying")
				continue
			}
		}
		candidateRec := Record{PublicID: candidate, Name: name, CreatedAt: time.Now().UTC()}
		if g.store != nil {
			err := g.store.CreateRoom(ctx, candidateRec)
			if errors.Is(err, ErrDuplicateID) {
				// Lost the insert race despite the existence check; a fresh
				// id recovers.
				log.Warn().Str("publicId", candidate).Msg("room: public id collision, retrying")
				continue
			}
			if err != nil {
				return Record{}, fmt.Errorf("persist room: %w", err)
			}
		}
		rec = candidateRec
		break
	}
	if rec.PublicID == "" {
		return Record{}, ErrIDExhausted
	}

	g.mu.Lock()
	actor := newActor(state{record: rec}, g.deps())
	g.rooms[rec.PublicID] = actor
	g.mu.Unlock()

	if g.bcast != nil {
		g.bcast.Publish(rec.PublicID, TopicCreated, Event{Type: EventRoomCreated, Payload: rec})
	}
	log.Info().Str("publicId", rec.PublicID).Str("name", name).Msg("room: created")
	return rec, nil
}

// GetOrCreate returns the live actor for a room, reviving it from the store
// if the room is durable but not live. ErrRoomNotFound if it is neither.
func (g *Registry) GetOrCreate(ctx context.Context, publicID string) (*Actor, error) {
	g.mu.RLock()
	actor, ok := g.rooms[publicID]
	g.mu.RUnlock()
	if ok {
		return actor, nil
	}

	var st state
	if g.store != nil {
		rec, songs, err := g.store.FindRoom(ctx, publicID)
		if err != nil {
			return nil, err
		}
		st = state{record: rec, songs: songs}
	} else {
		return nil, ErrRoomNotFound
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Double-check: another caller may have revived it while we were loading.
	if actor, ok := g.rooms[publicID]; ok {
		return actor, nil
	}
	actor = newActor(st, g.deps())
	g.rooms[publicID] = actor
	log.Info().Str("publicId", publicID).Int("songs", len(st.songs)).Msg("room: actor revived")
	return actor, nil
}

// Lookup returns the live actor only; it never touches the store.
func (g *Registry) Lookup(publicID string) (*Actor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	actor, ok := g.rooms[publicID]
	return actor, ok
}

// Evict drops the in-memory actor. The durable record, if any, is untouched;
// the next GetOrCreate revives the room from the store.
func (g *Registry) Evict(publicID string) {
	g.mu.Lock()
	actor, ok := g.rooms[publicID]
	if ok {
		delete(g.rooms, publicID)
	}
	g.mu.Unlock()
	if ok {
		actor.stop()
		log.Info().Str("publicId", publicID).Msg("room: actor evicted")
	}
}

// Retain and Release forward subscriber accounting to the live actor. A
// retained room is revived if needed so subscribing always lands somewhere.
func (g *Registry) Retain(ctx context.Context, publicID string) error {
	actor, err := g.GetOrCreate(ctx, publicID)
	if err != nil {
		return err
	}
	actor.Retain()
	return nil
}

func (g *Registry) Release(publicID string) {
	if actor, ok := g.Lookup(publicID); ok {
		actor.Release()
	}
}

// Len reports the number of live actors.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// StartSweeper starts a background worker that evicts actors which have had
// zero subscribers for the idle window.
func (g *Registry) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SweepInterval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Registry) sweep() {
	cutoff := time.Now().Add(-g.cfg.IdleWindow)

	g.mu.RLock()
	var idle []string
	for id, actor := range g.rooms {
		if actor.Subscribers() == 0 && actor.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	g.mu.RUnlock()

	for _, id := range idle {
		g.Evict(id)
	}
}
