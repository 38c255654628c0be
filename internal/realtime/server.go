package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kietn20/playlist-collaborator/internal/room"
)

// Server terminates the transport: REST for room creation/lookup, websocket
// for live commands and broadcasts, redis pub/sub to bridge instances.
type Server struct {
	hub      *Hub
	router   *room.Router
	rdb      *redis.Client
	ctx      context.Context
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, router *room.Router, rdb *redis.Client, ctx context.Context, allowedOrigin string) *Server {
	return &Server{
		hub:    hub,
		router: router,
		rdb:    rdb,
		ctx:    ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return strings.HasPrefix(r.Header.Get("Origin"), allowedOrigin)
			},
		},
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Post("/api/rooms", s.handleCreateRoom)
	r.Get("/api/rooms/{publicId}", s.handleGetRoom)

	return r
}

// RunRedisSubscriber feeds the hub from the shared broadcast channel.
// Blocks until the subscription closes.
func (s *Server) RunRedisSubscriber() {
	sub := s.rdb.Subscribe(s.ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Warn().Err(err).Msg("realtime: bad broadcast payload")
			continue
		}
		s.hub.broadcast <- env
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "room-service",
	})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	rec, err := s.router.CreateRoom(r.Context(), body.Name)
	if errors.Is(err, room.ErrInvalidCommand) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("room-service: create room")
		writeError(w, http.StatusInternalServerError, "could not create room")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicId")

	snap, err := s.router.GetRoom(r.Context(), publicID)
	if errors.Is(err, room.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if errors.Is(err, room.ErrInvalidCommand) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("publicId", publicID).Msg("room-service: get room")
		writeError(w, http.StatusInternalServerError, "could not load room")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("room-service: ws upgrade")
		return
	}

	client := &Client{
		hub:  s.hub,
		srv:  s,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// wsMessage is the union of every inbound websocket frame. Action selects
// which fields matter.
type wsMessage struct {
	Action string   `json:"action"`
	RoomID string   `json:"roomId"`
	Topics []string `json:"topics,omitempty"`

	// addSong
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	SourceRef string `json:"sourceRef,omitempty"`
	AddedBy   string `json:"addedBy,omitempty"`

	// removeSong
	SongID string `json:"songId,omitempty"`

	// playbackState
	IsPlaying   bool    `json:"isPlaying,omitempty"`
	CurrentTime float64 `json:"currentTime,omitempty"`
	VideoID     string  `json:"videoId,omitempty"`
	EventType   string  `json:"eventType,omitempty"`

	// requestNextSong / playbackState / nextSong
	TriggeredBy string `json:"triggeredBy,omitempty"`
	NextSongID  string `json:"nextSongId,omitempty"`
}

// dispatch routes one decoded client frame into the core. Command failures
// are reported back to the sending client only; they never affect other
// subscribers or in-flight commands.
func (s *Server) dispatch(c *Client, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, "", "invalid message")
		return
	}

	switch msg.Action {
	case "subscribe":
		if err := s.router.Subscribe(s.ctx, msg.RoomID); err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
			return
		}
		s.hub.subscribe <- subRequest{client: c, room: msg.RoomID, topics: msg.Topics, add: true}
		s.sendAck(c, "subscribed", msg.RoomID)

	case "unsubscribe":
		s.hub.subscribe <- subRequest{client: c, room: msg.RoomID, add: false}
		s.sendAck(c, "unsubscribed", msg.RoomID)

	case "addSong":
		_, err := s.router.AddSong(s.ctx, msg.RoomID, room.SongDraft{
			Title:     msg.Title,
			Artist:    msg.Artist,
			SourceRef: msg.SourceRef,
			AddedBy:   msg.AddedBy,
		})
		if err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
		}

	case "removeSong":
		if err := s.router.RemoveSong(s.ctx, msg.RoomID, msg.SongID); err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
		}

	case "requestNextSong":
		if _, _, err := s.router.AdvanceToNext(s.ctx, msg.RoomID, msg.TriggeredBy); err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
		}

	case "playbackState":
		err := s.router.SyncPlayback(s.ctx, msg.RoomID, room.PlaybackState{
			IsPlaying:   msg.IsPlaying,
			CurrentTime: msg.CurrentTime,
			VideoID:     msg.VideoID,
			TriggeredBy: msg.TriggeredBy,
			EventType:   msg.EventType,
		})
		if err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
		}

	case "nextSong":
		err := s.router.RelayNextSongHint(s.ctx, msg.RoomID, room.NextSongHint{
			NextSongID:  msg.NextSongID,
			TriggeredBy: msg.TriggeredBy,
		})
		if err != nil {
			s.sendError(c, msg.RoomID, errorText(err))
		}

	default:
		s.sendError(c, msg.RoomID, "unknown action")
	}
}

func (s *Server) sendAck(c *Client, kind, roomID string) {
	b, err := json.Marshal(map[string]any{"type": kind, "room": roomID})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (s *Server) sendError(c *Client, roomID, msg string) {
	b, err := json.Marshal(map[string]any{"type": "error", "room": roomID, "error": msg})
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

// errorText maps core errors to client-safe strings.
func errorText(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, room.ErrSongNotFound):
		return "song not found"
	case errors.Is(err, room.ErrInvalidCommand):
		return err.Error()
	case errors.Is(err, room.ErrRoomClosed):
		return "room closed, retry"
	default:
		return "internal error"
	}
}
