package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kietn20/playlist-collaborator/internal/room"
)

// Querier is the subset of pgxpool.Pool the store needs; tests substitute
// the hand mocks from mocks_test.go.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres persists rooms and their playlist songs. It is a plain
// repository: the actor serializes access per room, so no row locking is
// needed beyond single-statement atomicity.
type Postgres struct {
	db Querier
}

func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateRoom(ctx context.Context, rec room.Record) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO rooms (public_id, name, created_at)
		VALUES ($1, $2, $3)
	`, rec.PublicID, rec.Name, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// A concurrent creator won the insert for this public id.
			return fmt.Errorf("%w: %s", room.ErrDuplicateID, rec.PublicID)
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (p *Postgres) RoomExists(ctx context.Context, publicID string) (bool, error) {
	var one int
	err := p.db.QueryRow(ctx, `
		SELECT 1 FROM rooms WHERE public_id = $1
	`, publicID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) FindRoom(ctx context.Context, publicID string) (room.Record, []room.Song, error) {
	var rec room.Record
	err := p.db.QueryRow(ctx, `
		SELECT public_id, name, created_at
		FROM rooms
		WHERE public_id = $1
	`, publicID).Scan(&rec.PublicID, &rec.Name, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return room.Record{}, nil, room.ErrRoomNotFound
	}
	if err != nil {
		return room.Record{}, nil, err
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, title, artist, source_ref, added_by, added_at
		FROM playlist_songs
		WHERE room_public_id = $1
		ORDER BY added_at ASC, id ASC
	`, publicID)
	if err != nil {
		return room.Record{}, nil, err
	}
	defer rows.Close()

	var songs []room.Song
	for rows.Next() {
		var s room.Song
		if err := rows.Scan(&s.ID, &s.Title, &s.Artist, &s.SourceRef, &s.AddedBy, &s.AddedAt); err != nil {
			return room.Record{}, nil, err
		}
		songs = append(songs, s)
	}
	if err := rows.Err(); err != nil {
		return room.Record{}, nil, err
	}
	return rec, songs, nil
}

func (p *Postgres) InsertSong(ctx context.Context, publicID string, s room.Song) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO playlist_songs (id, room_public_id, title, artist, source_ref, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, publicID, s.Title, s.Artist, s.SourceRef, s.AddedBy, s.AddedAt)
	if err != nil {
		return fmt.Errorf("insert song: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteSong(ctx context.Context, publicID, songID string) error {
	_, err := p.db.Exec(ctx, `
		DELETE FROM playlist_songs
		WHERE id = $1 AND room_public_id = $2
	`, songID, publicID)
	if err != nil {
		return fmt.Errorf("delete song: %w", err)
	}
	return nil
}
