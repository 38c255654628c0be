package room

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Actor is the single writer of one room's state. Every command runs to
// completion on the actor goroutine before the next one starts, so two
// mutations of the same room can never interleave. Commands for different
// rooms run fully in parallel.
type Actor struct {
	publicID string

	tasks chan *task
	quit  chan struct{}

	// Owned by the loop goroutine only.
	st state

	store          Store
	resolver       Resolver
	bcast          Broadcaster
	resolveTimeout time.Duration
	storeTimeout   time.Duration

	subscribers atomic.Int64
	lastActive  atomic.Int64 // unix nanos of the last command or release
}

func newActor(st state, deps actorDeps) *Actor {
	a := &Actor{
		publicID:       st.record.PublicID,
		tasks:          make(chan *task, 16),
		quit:           make(chan struct{}),
		st:             st,
		store:          deps.store,
		resolver:       deps.resolver,
		bcast:          deps.bcast,
		resolveTimeout: deps.resolveTimeout,
		storeTimeout:   deps.storeTimeout,
	}
	a.touch()
	go a.loop()
	return a
}

type actorDeps struct {
	store          Store
	resolver       Resolver
	bcast          Broadcaster
	resolveTimeout time.Duration
	storeTimeout   time.Duration
}

// task states. A task moves pending -> started (the loop will run it to
// completion) or pending -> abandoned (the room stopped first and it will
// never run); the transition is a CAS so exactly one side wins.
const (
	taskPending int32 = iota
	taskStarted
	taskAbandoned
)

type task struct {
	fn    func()
	done  chan struct{}
	state atomic.Int32
}

func (a *Actor) loop() {
	for {
		select {
		case t := <-a.tasks:
			if t.state.CompareAndSwap(taskPending, taskStarted) {
				t.fn()
				close(t.done)
			}
		case <-a.quit:
			return
		}
	}
}

// stop terminates the loop. Pending commands fail with ErrRoomClosed.
func (a *Actor) stop() {
	close(a.quit)
}

// run enqueues fn on the actor and waits for it to finish. Once started a
// command runs to completion and reports success even if the room stops
// meanwhile; ctx only bounds the wait for a free queue slot. ErrRoomClosed
// means fn never ran.
func (a *Actor) run(ctx context.Context, fn func()) error {
	t := &task{fn: fn, done: make(chan struct{})}
	select {
	case a.tasks <- t:
	case <-a.quit:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-a.quit:
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			return ErrRoomClosed
		}
		<-t.done
		return nil
	}
}

// AddSong builds a Song from the draft, enriching missing title/artist from
// the resolver when a source reference is present. Resolution is bounded by
// resolveTimeout and falls back to placeholders on any failure; an add never
// fails because enrichment did.
func (a *Actor) AddSong(ctx context.Context, draft SongDraft) (Song, error) {
	var song Song
	err := a.run(ctx, func() {
		song = a.applyAddSong(draft)
	})
	return song, err
}

func (a *Actor) applyAddSong(draft SongDraft) Song {
	a.touch()
	song := Song{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(draft.Title),
		Artist:    strings.TrimSpace(draft.Artist),
		SourceRef: strings.TrimSpace(draft.SourceRef),
		AddedBy:   strings.TrimSpace(draft.AddedBy),
		AddedAt:   time.Now().UTC(),
	}

	if (song.Title == "" || song.Artist == "") && song.SourceRef != "" && a.resolver != nil {
		rctx, cancel := context.WithTimeout(context.Background(), a.resolveTimeout)
		title, artist, err := a.resolver.Resolve(rctx, song.SourceRef)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("room", a.publicID).Str("sourceRef", song.SourceRef).
				Msg("room: metadata resolve failed, using placeholders")
		} else {
			if song.Title == "" {
				song.Title = strings.TrimSpace(title)
			}
			if song.Artist == "" {
				song.Artist = strings.TrimSpace(artist)
			}
		}
	}
	if song.Title == "" {
		song.Title = UnknownTitle
	}
	if song.Artist == "" {
		song.Artist = UnknownArtist
	}

	a.st.songs = append(a.st.songs, song)

	if a.store != nil {
		sctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
		if err := a.store.InsertSong(sctx, a.publicID, song); err != nil {
			log.Error().Err(err).Str("room", a.publicID).Str("song", song.ID).
				Msg("room: persist song")
		}
		cancel()
	}

	a.publish(TopicSongs, Event{Type: EventSongAdded, Payload: song})
	return song
}

// RemoveSong removes exactly the entry with the given id, leaving the
// relative order of the rest unchanged.
func (a *Actor) RemoveSong(ctx context.Context, songID string) error {
	var applyErr error
	if err := a.run(ctx, func() {
		applyErr = a.applyRemoveSong(songID)
	}); err != nil {
		return err
	}
	return applyErr
}

func (a *Actor) applyRemoveSong(songID string) error {
	a.touch()
	idx := -1
	for i, s := range a.st.songs {
		if s.ID == songID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSongNotFound
	}
	a.removeAt(idx)
	return nil
}

// AdvanceToNext pops the head of the playlist (the "now playing" slot). An
// empty playlist is a silent no-op: no event, no error. Clients derive the
// new "now playing" from the head that remains.
func (a *Actor) AdvanceToNext(ctx context.Context, requestedBy string) (Song, bool, error) {
	var (
		removed Song
		ok      bool
	)
	err := a.run(ctx, func() {
		removed, ok = a.applyAdvance(requestedBy)
	})
	return removed, ok, err
}

func (a *Actor) applyAdvance(requestedBy string) (Song, bool) {
	a.touch()
	if len(a.st.songs) == 0 {
		return Song{}, false
	}
	head := a.st.songs[0]
	log.Info().Str("room", a.publicID).Str("song", head.ID).Str("requestedBy", requestedBy).
		Msg("room: advancing to next song")
	a.removeAt(0)
	return head, true
}

// removeAt splices the playlist, persists best-effort and emits the removal
// notice. Only called from the actor loop.
func (a *Actor) removeAt(idx int) {
	removed := a.st.songs[idx]
	a.st.songs = append(a.st.songs[:idx], a.st.songs[idx+1:]...)

	if a.store != nil {
		sctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
		if err := a.store.DeleteSong(sctx, a.publicID, removed.ID); err != nil {
			log.Error().Err(err).Str("room", a.publicID).Str("song", removed.ID).
				Msg("room: delete song")
		}
		cancel()
	}

	a.publish(TopicRemoved, Event{
		Type:    EventSongRemoved,
		Payload: map[string]any{"songId": removed.ID},
	})
}

// SyncPlayback replaces the playback cell and rebroadcasts the state
// verbatim. There is no arbitration between conflicting leaders: the most
// recently received state wins, and every received state is still broadcast
// in arrival order.
func (a *Actor) SyncPlayback(ctx context.Context, ps PlaybackState) error {
	return a.run(ctx, func() {
		a.touch()
		a.st.playback = ps
		a.publish(TopicPlayback, Event{Type: EventPlaybackSynced, Payload: ps})
	})
}

// RelayNextSongHint passes the hint through to subscribers without touching
// room state.
func (a *Actor) RelayNextSongHint(ctx context.Context, hint NextSongHint) error {
	return a.run(ctx, func() {
		a.touch()
		a.publish(TopicNextSong, Event{Type: EventNextSongHint, Payload: hint})
	})
}

// Snapshot returns a consistent copy of the room as of the commands applied
// before the call.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := a.run(ctx, func() {
		songs := make([]Song, len(a.st.songs))
		copy(songs, a.st.songs)
		snap = Snapshot{
			PublicID:  a.st.record.PublicID,
			Name:      a.st.record.Name,
			CreatedAt: a.st.record.CreatedAt,
			Songs:     songs,
			Playback:  a.st.playback,
		}
	})
	return snap, err
}

func (a *Actor) publish(topic string, ev Event) {
	if a.bcast == nil {
		return
	}
	a.bcast.Publish(a.publicID, topic, ev)
}

// Retain and Release track live subscriber counts for idle eviction.
func (a *Actor) Retain()  { a.subscribers.Add(1); a.touch() }
func (a *Actor) Release() { a.subscribers.Add(-1); a.touch() }

func (a *Actor) Subscribers() int64 { return a.subscribers.Load() }

func (a *Actor) touch() { a.lastActive.Store(time.Now().UnixNano()) }

func (a *Actor) idleSince() time.Time {
	return time.Unix(0, a.lastActive.Load())
}
