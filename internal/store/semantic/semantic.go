// Package semantic implements the embedding secondary store on Redis. Each
// propagated entity becomes a hash keyed by its deterministic secondary id,
// holding a text rendering and its embedding, plus membership in a per-type
// index set used for similarity search.
package semantic

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

const indexKey = "helio:semantic:ids"

// Config holds the Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0" validate:"gte=0"`
}

// Store is the Redis-backed semantic store.
type Store struct {
	client *redis.Client
	logger *logger.Logger
}

// NewStore creates a semantic store client.
func NewStore(config Config, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Store{client: client, logger: log}
}

// Name implements syncer.SecondaryStore.
func (s *Store) Name() string {
	return "semantic"
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "semantic store unreachable", err)
	}
	return nil
}

// Apply implements syncer.SecondaryStore. Writes are idempotent: the same
// outbox entry always produces the same document under the same key, so
// replaying a delivery is harmless.
func (s *Store) Apply(ctx context.Context, entry store.OutboxEntry) error {
	doc, err := RenderDocument(entry)
	if err != nil {
		return err
	}

	embedding, err := json.Marshal(doc.Embedding)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to encode embedding", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, doc.ID, map[string]any{
		"entity_type": doc.EntityType,
		"entity_key":  doc.EntityKey,
		"text":        doc.Text,
		"embedding":   string(embedding),
	})
	pipe.SAdd(ctx, indexKey, doc.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to write semantic document", err)
	}

	s.logger.Debug("semantic document upserted", zap.String("id", doc.ID))
	return nil
}

// Get loads a document by its secondary id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	fields, err := s.client.HGetAll(ctx, id).Result()
	if err != nil {
		return Document{}, errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to read semantic document", err)
	}
	if len(fields) == 0 {
		return Document{}, errors.Newf(errors.ErrCodeDataNotFound, "no semantic document with id %s", id)
	}

	doc := Document{
		ID:         id,
		EntityType: fields["entity_type"],
		EntityKey:  fields["entity_key"],
		Text:       fields["text"],
	}
	if err := json.Unmarshal([]byte(fields["embedding"]), &doc.Embedding); err != nil {
		return Document{}, errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to decode embedding", err)
	}
	return doc, nil
}

// SearchResult pairs a document with its similarity to the query.
type SearchResult struct {
	Document Document
	Score    float64
}

// Search embeds the query and returns the most similar documents. The scan
// is linear over the index set; the corpus here is trade history, not web
// scale.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "limit must be positive, got %d", limit)
	}

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to list semantic index", err)
	}

	queryVector := Embed(query)
	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		doc, err := s.Get(ctx, id)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeDataNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, SearchResult{
			Document: doc,
			Score:    Cosine(queryVector, doc.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
