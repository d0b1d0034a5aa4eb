package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pvhistory/internal/history/domain/record"
)

const defaultRecordTable = "pv_history_records"

// RecordStore is a Postgres implementation of the record store. Records are
// upserted on (measurement, tags, field, ts) so reruns overwrite.
type RecordStore struct {
	db    *sql.DB
	table string
}

// NewRecordStore constructs a store with the default table name.
func NewRecordStore(db *sql.DB, opts ...StoreOption) *RecordStore {
	store := &RecordStore{db: db, table: defaultRecordTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// StoreOption configures the store.
type StoreOption func(*RecordStore)

// WithTable overrides the default table name.
func WithTable(table string) StoreOption {
	return func(store *RecordStore) {
		if table != "" {
			store.table = table
		}
	}
}

// EnsureSchema creates the record table when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("record store: nil db")
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	measurement TEXT NOT NULL,
	tag_set TEXT NOT NULL,
	tags JSONB NOT NULL DEFAULT '{}'::jsonb,
	field TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	value_numeric DOUBLE PRECISION NOT NULL,
	value_kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (measurement, tag_set, field, ts)
)`, s.table))
	return err
}

// Write upserts records in one transaction.
func (s *RecordStore) Write(ctx context.Context, records []record.Record) error {
	if s == nil || s.db == nil {
		return errors.New("record store: nil db")
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	measurement,
	tag_set,
	tags,
	field,
	ts,
	value_numeric,
	value_kind
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (measurement, tag_set, field, ts)
DO UPDATE SET
	value_numeric = EXCLUDED.value_numeric,
	value_kind = EXCLUDED.value_kind,
	updated_at = NOW()`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		tags, err := json.Marshal(tagsOrEmpty(rec.Tags))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		value := rec.Value
		if rec.Kind == record.Integer {
			value = float64(rec.IntValue())
		}
		if _, err := stmt.ExecContext(
			ctx,
			rec.Measurement,
			rec.TagString(),
			string(tags),
			rec.Field,
			rec.At.UTC(),
			value,
			rec.Kind.String(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// List loads the records of one measurement and field in [start, end).
func (s *RecordStore) List(ctx context.Context, measurement, field string, start, end time.Time) ([]record.Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("record store: nil db")
	}
	query := fmt.Sprintf(`
SELECT tags, ts, value_numeric, value_kind
FROM %s
WHERE measurement = $1 AND field = $2 AND ts >= $3 AND ts < $4
ORDER BY ts ASC, tag_set ASC`, s.table)

	rows, err := s.db.QueryContext(ctx, query, measurement, field, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var (
			rawTags []byte
			ts      time.Time
			value   float64
			kind    string
		)
		if err := rows.Scan(&rawTags, &ts, &value, &kind); err != nil {
			return nil, err
		}
		rec := record.Record{Measurement: measurement, Field: field, Value: value, At: ts.UTC(), Kind: record.Float}
		if kind == record.Integer.String() {
			rec.Kind = record.Integer
		}
		if err := json.Unmarshal(rawTags, &rec.Tags); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func tagsOrEmpty(tags map[string]string) map[string]string {
	if tags == nil {
		return map[string]string{}
	}
	return tags
}
