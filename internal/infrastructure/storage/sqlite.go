// Package storage is the collaborator-owned persistence consumed by the
// core: a seen-record store and a match-result store keyed by record id.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id        TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    payload   TEXT NOT NULL,
    stored_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS match_results (
    record_id         TEXT NOT NULL,
    strategy          TEXT NOT NULL,
    corpus_fetched_at INTEGER NOT NULL,
    score             REAL NOT NULL,
    payload           TEXT NOT NULL,
    computed_at       TIMESTAMP NOT NULL,
    PRIMARY KEY (record_id, strategy, corpus_fetched_at)
);
`

// SQLiteStore implements the record and match-result stores over a single
// sqlite database file (":memory:" in tests).
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ports.RecordStore      = (*SQLiteStore)(nil)
	_ ports.MatchResultStore = (*SQLiteStore)(nil)
)

// Open connects and applies the schema.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// StoreRecords inserts the batch, counting duplicates via conflict-ignored
// rows, and returns the running total afterwards.
func (s *SQLiteStore) StoreRecords(ctx context.Context, records []domain.Record) (int, int, int, error) {
	stored := 0
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		res, err := sq.Insert("records").
			Columns("id", "source_id", "payload").
			Values(rec.ID, rec.SourceID, string(payload)).
			Suffix("ON CONFLICT(id) DO NOTHING").
			RunWith(s.db).
			ExecContext(ctx)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("rows affected: %w", err)
		}
		stored += int(affected)
	}

	total, err := s.total(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	return stored, len(records) - stored, total, nil
}

// Contains reports whether a record id is already stored.
func (s *SQLiteStore) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := sq.Select("1").From("records").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup record %s: %w", id, err)
	}
	return true, nil
}

// Unmatched returns stored records lacking a result for the strategy and
// corpus snapshot, oldest first.
func (s *SQLiteStore) Unmatched(ctx context.Context, strategy domain.Strategy, corpusFetchedAt time.Time) ([]domain.Record, error) {
	rows, err := sq.Select("r.payload").
		From("records r").
		LeftJoin("match_results m ON m.record_id = r.id AND m.strategy = ? AND m.corpus_fetched_at = ?",
			string(strategy), corpusFetchedAt.UnixNano()).
		Where("m.record_id IS NULL").
		OrderBy("r.stored_at", "r.id").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query unmatched: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unmatched: %w", err)
	}
	return records, nil
}

// SaveResult upserts the match result for its (record, strategy, corpus)
// key.
func (s *SQLiteStore) SaveResult(ctx context.Context, result domain.MatchResult, corpusFetchedAt time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", result.RecordID, err)
	}
	_, err = sq.Insert("match_results").
		Columns("record_id", "strategy", "corpus_fetched_at", "score", "payload", "computed_at").
		Values(result.RecordID, string(result.Strategy), corpusFetchedAt.UnixNano(),
			result.Score, string(payload), result.ComputedAt).
		Suffix("ON CONFLICT(record_id, strategy, corpus_fetched_at) DO UPDATE SET " +
			"score = excluded.score, payload = excluded.payload, computed_at = excluded.computed_at").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("upsert result %s: %w", result.RecordID, err)
	}
	return nil
}

// LoadResult returns the stored result or nil when absent.
func (s *SQLiteStore) LoadResult(ctx context.Context, recordID string, strategy domain.Strategy, corpusFetchedAt time.Time) (*domain.MatchResult, error) {
	var payload string
	err := sq.Select("payload").From("match_results").
		Where(sq.Eq{
			"record_id":         recordID,
			"strategy":          string(strategy),
			"corpus_fetched_at": corpusFetchedAt.UnixNano(),
		}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", recordID, err)
	}
	var result domain.MatchResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", recordID, err)
	}
	return &result, nil
}

func (s *SQLiteStore) total(ctx context.Context) (int, error) {
	var total int
	err := sq.Select("COUNT(*)").From("records").
		RunWith(s.db).QueryRowContext(ctx).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return total, nil
}
