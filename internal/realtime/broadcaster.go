package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kietn20/playlist-collaborator/internal/room"
)

// broadcastChannel is the single redis pub/sub channel every service
// instance listens on; the envelope carries the room/topic addressing.
const broadcastChannel = "broadcast"

// Envelope is the wire form of one room event on the redis channel.
type Envelope struct {
	Room    string          `json:"room"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBroadcaster implements room.Broadcaster over redis pub/sub, so events
// reach the hubs of every instance. Publishing is fire-and-forget: failures
// are logged and dropped, never surfaced to the actor.
type RedisBroadcaster struct {
	rdb *redis.Client
	ctx context.Context
}

func NewRedisBroadcaster(ctx context.Context, rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, ctx: ctx}
}

func (b *RedisBroadcaster) Publish(roomID, topic string, ev room.Event) {
	if b.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("topic", topic).Msg("realtime: marshal event payload")
		return
	}
	data, err := json.Marshal(Envelope{
		Room:    roomID,
		Topic:   topic,
		Type:    ev.Type,
		Payload: payload,
	})
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("topic", topic).Msg("realtime: marshal envelope")
		return
	}
	if err := b.rdb.Publish(b.ctx, broadcastChannel, string(data)).Err(); err != nil {
		log.Error().Err(err).Str("room", roomID).Str("topic", topic).Msg("realtime: publish event")
	}
}
