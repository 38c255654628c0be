package room

import (
	"context"
	"sync"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]Record
	songs map[string][]Song

	createErr  error
	existsAll  bool // every candidate id "exists", to exhaust id retries
	dupInserts int  // fail this many CreateRoom calls with ErrDuplicateID
}

func newMemStore() *memStore {
	return &memStore{
		rooms: make(map[string]Record),
		songs: make(map[string][]Song),
	}
}

func (m *memStore) CreateRoom(ctx context.Context, rec Record) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dupInserts > 0 {
		m.dupInserts--
		return ErrDuplicateID
	}
	m.rooms[rec.PublicID] = rec
	return nil
}

func (m *memStore) RoomExists(ctx context.Context, publicID string) (bool, error) {
	if m.existsAll {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[publicID]
	return ok, nil
}

func (m *memStore) FindRoom(ctx context.Context, publicID string) (Record, []Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[publicID]
	if !ok {
		return Record{}, nil, ErrRoomNotFound
	}
	songs := make([]Song, len(m.songs[publicID]))
	copy(songs, m.songs[publicID])
	return rec, songs, nil
}

func (m *memStore) InsertSong(ctx context.Context, publicID string, s Song) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.songs[publicID] = append(m.songs[publicID], s)
	return nil
}

func (m *memStore) DeleteSong(ctx context.Context, publicID, songID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.songs[publicID]
	for i, s := range list {
		if s.ID == songID {
			m.songs[publicID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// recorded is one captured broadcast.
type recorded struct {
	Room  string
	Topic string
	Event Event
}

// recorder captures broadcasts in delivery order.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) Publish(roomID, topic string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{Room: roomID, Topic: topic, Event: ev})
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recorded, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) byTopic(topic string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// stubResolver returns fixed metadata, an error, or blocks past the caller's
// deadline.
type stubResolver struct {
	title  string
	artist string
	err    error
	block  bool

	mu    sync.Mutex
	calls int
}

func (s *stubResolver) Resolve(ctx context.Context, sourceRef string) (string, string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if s.err != nil {
		return "", "", s.err
	}
	return s.title, s.artist, nil
}

func (s *stubResolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
