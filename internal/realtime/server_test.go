package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/kietn20/playlist-collaborator/internal/room"
)

// memStore is an in-memory room.Store for transport tests.
type memStore struct {
	mu    sync.Mutex
	rooms map[string]room.Record
	songs map[string][]room.Song
}

func newMemStore() *memStore {
	return &memStore{rooms: make(map[string]room.Record), songs: make(map[string][]room.Song)}
}

func (m *memStore) CreateRoom(ctx context.Context, rec room.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[rec.PublicID] = rec
	return nil
}

func (m *memStore) RoomExists(ctx context.Context, publicID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[publicID]
	return ok, nil
}

func (m *memStore) FindRoom(ctx context.Context, publicID string) (room.Record, []room.Song, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[publicID]
	if !ok {
		return room.Record{}, nil, room.ErrRoomNotFound
	}
	return rec, append([]room.Song(nil), m.songs[publicID]...), nil
}

func (m *memStore) InsertSong(ctx context.Context, publicID string, s room.Song) error {
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

// newTestServer wires the full stack against miniredis: registry, router,
// hub, redis broadcaster and subscriber loop.
func newTestServer(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bcast := NewRedisBroadcaster(ctx, rdb)
	registry := room.NewRegistry(newMemStore(), nil, bcast, room.RegistryConfig{})
	router := room.NewRouter(registry)

	hub := NewHub(router)
	go hub.Run()
	srv := NewServer(hub, router, rdb, ctx, "")
	go srv.RunRedisSubscriber()

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, registry
}

func createRoom(t *testing.T, ts *httptest.Server, name string) room.Record {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(ts.URL+"/api/rooms", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var rec room.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec
}

func TestServer_CreateAndGetRoom(t *testing.T) {
	ts, _ := newTestServer(t)

	rec := createRoom(t, ts, "My Room")
	if rec.PublicID == "" || rec.Name != "My Room" {
		t.Fatalf("bad record: %+v", rec)
	}

	resp, err := http.Get(ts.URL + "/api/rooms/" + rec.PublicID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap room.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.PublicID != rec.PublicID || snap.Name != "My Room" || len(snap.Songs) != 0 {
		t.Fatalf("bad snapshot: %+v", snap)
	}
}

func TestServer_GetRoom_NotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/rooms/missing1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntilType drains frames until one matches the wanted type.
func readUntilType(t *testing.T, ws *websocket.Conn, want string) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if msg["type"] == want {
			return msg
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_WebsocketFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	rec := createRoom(t, ts, "ws room")

	ws := dialWS(t, ts)
	send(t, ws, map[string]any{"action": "subscribe", "roomId": rec.PublicID})
	readUntilType(t, ws, "subscribed")

	t.Run("add song broadcasts to subscriber", func(t *testing.T) {
		send(t, ws, map[string]any{
			"action": "addSong",
			"roomId": rec.PublicID,
			"title":  "Song A",
			"artist": "Artist A",
		})
		msg := readUntilType(t, ws, "song.added")
		if msg["room"] != rec.PublicID || msg["topic"] != "songs" {
			t.Errorf("bad addressing: %v", msg)
		}
		payload := msg["payload"].(map[string]any)
		if payload["title"] != "Song A" {
			t.Errorf("bad payload: %v", payload)
		}
	})

	t.Run("playback state is rebroadcast verbatim", func(t *testing.T) {
		send(t, ws, map[string]any{
			"action":      "playbackState",
			"roomId":      rec.PublicID,
			"isPlaying":   true,
			"currentTime": 12.5,
			"videoId":     "vid1",
			"triggeredBy": "alice",
			"eventType":   "play",
		})
		msg := readUntilType(t, ws, "playback.state")
		payload := msg["payload"].(map[string]any)
		if payload["currentTime"] != 12.5 || payload["triggeredBy"] != "alice" {
			t.Errorf("bad payload: %v", payload)
		}
	})

	t.Run("next song request removes the head", func(t *testing.T) {
		send(t, ws, map[string]any{
			"action":      "requestNextSong",
			"roomId":      rec.PublicID,
			"triggeredBy": "alice",
		})
		msg := readUntilType(t, ws, "song.removed")
		if msg["topic"] != "songRemoved" {
			t.Errorf("bad topic: %v", msg)
		}
	})

	t.Run("command errors go only to the sender", func(t *testing.T) {
		send(t, ws, map[string]any{
			"action": "removeSong",
			"roomId": rec.PublicID,
			"songId": "no-such-song",
		})
		msg := readUntilType(t, ws, "error")
		if msg["error"] != "song not found" {
			t.Errorf("bad error: %v", msg)
		}
	})

	t.Run("subscribe to unknown room is rejected", func(t *testing.T) {
		ws2 := dialWS(t, ts)
		send(t, ws2, map[string]any{"action": "subscribe", "roomId": "missing1"})
		msg := readUntilType(t, ws2, "error")
		if msg["error"] != "room not found" {
			t.Errorf("bad error: %v", msg)
		}
	})
}

func TestServer_ResubscribeThenDisconnectReleasesRoom(t *testing.T) {
	ts, registry := newTestServer(t)
	rec := createRoom(t, ts, "filters")

	ws := dialWS(t, ts)
	send(t, ws, map[string]any{"action": "subscribe", "roomId": rec.PublicID, "topics": []string{"songs"}})
	readUntilType(t, ws, "subscribed")

	// Widening the topic filter re-subscribes to the same room.
	send(t, ws, map[string]any{"action": "subscribe", "roomId": rec.PublicID})
	readUntilType(t, ws, "subscribed")

	actor, ok := registry.Lookup(rec.PublicID)
	if !ok {
		t.Fatal("room not live")
	}
	ws.Close()

	// Once the hub drops the client the room must be back to zero
	// subscribers, so the idle sweeper can reclaim it.
	deadline := time.After(2 * time.Second)
	for actor.Subscribers() != 0 {
		select {
		case <-deadline:
			t.Fatalf("subscriber count after disconnect = %d, want 0", actor.Subscribers())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServer_NoReplayOnResubscribe(t *testing.T) {
	ts, _ := newTestServer(t)
	rec := createRoom(t, ts, "late joiner")

	early := dialWS(t, ts)
	send(t, early, map[string]any{"action": "subscribe", "roomId": rec.PublicID})
	readUntilType(t, early, "subscribed")

	send(t, early, map[string]any{"action": "addSong", "roomId": rec.PublicID, "title": "Before"})
	readUntilType(t, early, "song.added")

	// A client subscribing now sees only events from this point onward.
	late := dialWS(t, ts)
	send(t, late, map[string]any{"action": "subscribe", "roomId": rec.PublicID})
	readUntilType(t, late, "subscribed")

	send(t, early, map[string]any{"action": "addSong", "roomId": rec.PublicID, "title": "After"})

	msg := readUntilType(t, late, "song.added")
	payload := msg["payload"].(map[string]any)
	if payload["title"] != "After" {
		t.Fatalf("late subscriber must not see replayed events, got %v", payload)
	}
}

func TestServer_ForbiddenOrigin(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	registry := room.NewRegistry(newMemStore(), nil, nil, room.RegistryConfig{})
	router := room.NewRouter(registry)
	hub := NewHub(router)
	go hub.Run()

	s := NewServer(hub, router, rdb, context.Background(), "http://localhost:3000")
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected dial to fail for bad origin")
	}

	header.Set("Origin", "http://localhost:3000")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected dial to succeed for allowed origin: %v", err)
	}
	ws.Close()
}
