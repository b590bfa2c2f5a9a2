// Package storage - event store: the append-only, deduplicating log of
// processed chain events plus the chain cursor each observer advances
// alongside it.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
)

// RecordResult is the outcome of recording an event.
type RecordResult string

const (
	ResultApplied   RecordResult = "applied"
	ResultDuplicate RecordResult = "duplicate"
)

// RecordEventAndAdvanceCursor inserts ev keyed by its natural idempotency
// key and advances the named cursor to newPosition as one atomic unit, so a
// crash can never leave the cursor ahead of an unprocessed event. If the
// natural key already exists the insert is a no-op and result is
// ResultDuplicate; the cursor is still advanced since the observer has by
// definition already reached newPosition.
func (s *Storage) RecordEventAndAdvanceCursor(ev *canon.Event, source string, newPosition uint64) (RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	chain, contractID, eventType, txHash, logIndex := ev.IdempotencyKey()
	now := time.Now()

	res, err := tx.Exec(`
		INSERT INTO processed_events (
			chain, contract_id, event_type, tx_hash, log_index,
			payload, observed_at, processed_at, result
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chain, contract_id, event_type, tx_hash, log_index) DO NOTHING
	`, chain, contractID, string(eventType), txHash, logIndex,
		string(payload), ev.ObservedAt.Unix(), now.Unix(), string(ResultApplied))
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(`
		INSERT INTO chain_cursors (source, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
		WHERE excluded.position > chain_cursors.position
	`, source, int64(newPosition), now.Unix()); err != nil {
		return "", fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	if n == 0 {
		return ResultDuplicate, nil
	}
	return ResultApplied, nil
}

// RecordEventError appends to the error log keyed by event; it never blocks
// the hot dedup path and is safe to call even if the event itself was never
// recorded.
func (s *Storage) RecordEventError(ev *canon.Event, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, contractID, eventType, txHash, logIndex := ev.IdempotencyKey()

	_, err := s.db.Exec(`
		INSERT INTO processed_event_errors (
			chain, contract_id, event_type, tx_hash, log_index, error_message, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, chain, contractID, string(eventType), txHash, logIndex, cause.Error(), time.Now().Unix())
	return err
}

// CursorOf returns the last durably processed position for source, and
// whether a cursor has been established yet.
func (s *Storage) CursorOf(source string) (position uint64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos int64
	err = s.db.QueryRow(`SELECT position FROM chain_cursors WHERE source = ?`, source).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(pos), true, nil
}

// AdvanceCursor moves source's cursor forward to newPosition without an
// accompanying event insert (used by the chain observers after scanning a
// range, which has no single event to pair the advance with).
func (s *Storage) AdvanceCursor(source string, newPosition uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO chain_cursors (source, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
		WHERE excluded.position > chain_cursors.position
	`, source, int64(newPosition), time.Now().Unix())
	return err
}
