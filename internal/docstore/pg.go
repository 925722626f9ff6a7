package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PGStore persists documents in a PostgreSQL JSONB table and fans out
// change notifications through Redis pub/sub so that every running
// instance observes writes made by any of them.
type PGStore struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool, client *redis.Client, logger *slog.Logger) *PGStore {
	return &PGStore{pool: pool, redis: client, logger: logger}
}

var _ Store = (*PGStore)(nil)

// Get fetches a document row.
func (s *PGStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var (
		raw       []byte
		updatedAt time.Time
		updatedBy string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at, updated_by FROM documents WHERE collection = $1 AND doc_id = $2`,
		collection, id,
	).Scan(&raw, &updatedAt, &updatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	data := make(map[string]any)
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return Document{Collection: collection, ID: id, Data: data, UpdatedAt: updatedAt, UpdatedBy: updatedBy}, nil
}

// Set upserts the document and publishes a change notification. The
// notification is best effort: a failed publish leaves the write intact
// and watchers catch up on their next delivery.
func (s *PGStore) Set(ctx context.Context, collection, id string, data map[string]any, updatedBy string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, doc_id, data, updated_at, updated_by)
		 VALUES ($1, $2, $3, NOW(), $4)
		 ON CONFLICT (collection, doc_id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW(), updated_by = EXCLUDED.updated_by`,
		collection, id, raw, updatedBy,
	)
	if err != nil {
		return fmt.Errorf("docstore: set %s/%s: %w", collection, id, err)
	}
	if err := s.redis.Publish(ctx, channelFor(collection, id), updatedBy).Err(); err != nil {
		if s.logger != nil {
			s.logger.Warn("docstore publish", slog.String("collection", collection), slog.String("id", id), slog.Any("error", err))
		}
	}
	return nil
}

// Watch subscribes to the document's Redis channel and re-reads the row
// on every notification. The initial state is delivered before the first
// notification so subscribers always start from a known snapshot.
func (s *PGStore) Watch(ctx context.Context, collection, id string, onChange ChangeFunc, onError ErrorFunc) (CancelFunc, error) {
	sub := s.redis.Subscribe(ctx, channelFor(collection, id))
	// Force the subscription onto the wire before the initial read so
	// a write landing in between is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("docstore: subscribe %s/%s: %w", collection, id, err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	go func() {
		defer sub.Close()

		s.deliver(watchCtx, collection, id, onChange, onError)

		ch := sub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				s.deliver(watchCtx, collection, id, onChange, onError)
			}
		}
	}()

	return func() { cancel() }, nil
}

func (s *PGStore) deliver(ctx context.Context, collection, id string, onChange ChangeFunc, onError ErrorFunc) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			onChange(Document{Collection: collection, ID: id}, false)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if onError != nil {
			onError(err)
		}
		return
	}
	onChange(doc, true)
}

func channelFor(collection, id string) string {
	return "docstore:" + collection + ":" + id
}
