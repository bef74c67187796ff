package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// OutboxEntry is one pending propagation to a secondary store.
type OutboxEntry struct {
	ID            string
	Target        string
	EntityType    types.EntityType
	EntityKey     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// SecondaryID returns the deterministic id the entry maps to in every
// secondary store.
func (e OutboxEntry) SecondaryID() string {
	return string(e.EntityType) + "_" + e.EntityKey
}

func newOutboxID() string {
	return uuid.New().String()
}

// PendingOutbox returns up to limit entries for a target that are due at or
// before now, oldest first. Per-entity ordering is preserved because rows
// are claimed in creation order.
func (s *Store) PendingOutbox(ctx context.Context, target string, limit int, now time.Time) ([]OutboxEntry, error) {
	rows, err := s.sq.
		Select("id", "target", "entity_type", "entity_key", "payload", "attempts", "next_attempt_at", "COALESCE(last_error, '')", "created_at").
		From("outbox").
		Where(squirrel.Eq{"target": target}).
		Where(squirrel.LtOrEq{"next_attempt_at": now.UTC()}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query outbox", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var entityType, payload string
		if err := rows.Scan(&entry.ID, &entry.Target, &entityType, &entry.EntityKey, &payload,
			&entry.Attempts, &entry.NextAttemptAt, &entry.LastError, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan outbox row", err)
		}
		entry.EntityType = types.EntityType(entityType)
		entry.Payload = []byte(payload)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// MarkDelivered removes a delivered outbox entry.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.sq.
		Delete("outbox").
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to mark outbox entry delivered", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt and schedules the retry.
func (s *Store) MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	_, err := s.sq.
		Update("outbox").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("last_error", lastError).
		Set("next_attempt_at", nextAttemptAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to mark outbox entry failed", err)
	}
	return nil
}

// MoveToDeadLetter moves an exhausted entry to the dead-letter backlog in a
// single transaction.
func (s *Store) MoveToDeadLetter(ctx context.Context, entry OutboxEntry, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(
		`INSERT INTO dead_letters (id, target, entity_type, entity_key, payload, attempts, last_error, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Target, string(entry.EntityType), entry.EntityKey, string(entry.Payload),
		entry.Attempts+1, lastError, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to insert dead letter", err)
	}

	if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, entry.ID); err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to delete outbox entry", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to commit dead letter move", err)
	}
	return nil
}

// DeadLetters returns the dead-letter backlog, oldest first.
func (s *Store) DeadLetters(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := s.sq.
		Select("id", "target", "entity_type", "entity_key", "payload", "attempts", "COALESCE(last_error, '')", "failed_at").
		From("dead_letters").
		OrderBy("failed_at ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query dead letters", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var entityType, payload string
		if err := rows.Scan(&entry.ID, &entry.Target, &entityType, &entry.EntityKey, &payload,
			&entry.Attempts, &entry.LastError, &entry.CreatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan dead letter row", err)
		}
		entry.EntityType = types.EntityType(entityType)
		entry.Payload = []byte(payload)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// RequeueDeadLetter moves a dead letter back into the outbox for another
// round of delivery attempts.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var target, entityType, entityKey, payload string
	err = tx.QueryRow(`SELECT target, entity_type, entity_key, payload FROM dead_letters WHERE id = ?`, id).
		Scan(&target, &entityType, &entityKey, &payload)
	if err == sql.ErrNoRows {
		return errors.Newf(errors.ErrCodeDataNotFound, "no dead letter with id %s", id)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to load dead letter", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(
		`INSERT INTO outbox (id, target, entity_type, entity_key, payload, attempts, next_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		newOutboxID(), target, entityType, entityKey, payload, now, now,
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to requeue dead letter", err)
	}

	if _, err := tx.Exec(`DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to delete dead letter", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to commit requeue", err)
	}
	return nil
}

// OutboxCounts returns the pending outbox depth per target.
func (s *Store) OutboxCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.sq.
		Select("target", "COUNT(*)").
		From("outbox").
		GroupBy("target").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count outbox", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var target string
		var count int
		if err := rows.Scan(&target, &count); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan outbox count", err)
		}
		counts[target] = count
	}
	return counts, rows.Err()
}

// DeadLetterCount returns the size of the dead-letter backlog.
func (s *Store) DeadLetterCount(ctx context.Context) (int, error) {
	var count int
	err := s.sq.
		Select("COUNT(*)").
		From("dead_letters").
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count dead letters", err)
	}
	return count, nil
}
