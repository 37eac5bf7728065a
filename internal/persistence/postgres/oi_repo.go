package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/derivintel/internal/persistence"
)

// oiRepo implements persistence.OISnapshotRepo for PostgreSQL.
type oiRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOISnapshotRepo creates a new PostgreSQL OI snapshot repository.
func NewOISnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.OISnapshotRepo {
	return &oiRepo{db: db, timeout: timeout}
}

func (r *oiRepo) Insert(ctx context.Context, rec persistence.OISnapshotRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	attrJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO oi_snapshots (ts, symbol, venue, market_type, oi_tokens, oi_usd, funding_rate, status, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		rec.Timestamp, rec.Symbol, rec.Venue, rec.MarketType,
		rec.OITokens, rec.OIUSD, rec.FundingRate, rec.Status, attrJSON).
		Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate oi snapshot: %w", err)
		}
		return fmt.Errorf("failed to insert oi snapshot: %w", err)
	}
	return nil
}

func (r *oiRepo) InsertBatch(ctx context.Context, recs []persistence.OISnapshotRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(recs)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO oi_snapshots (ts, symbol, venue, market_type, oi_tokens, oi_usd, funding_rate, status, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		attrJSON, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes for oi snapshot: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Timestamp, rec.Symbol, rec.Venue, rec.MarketType,
			rec.OITokens, rec.OIUSD, rec.FundingRate, rec.Status, attrJSON); err != nil {
			return fmt.Errorf("failed to insert oi snapshot in batch: %w", err)
		}
	}

	return tx.Commit()
}

func (r *oiRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.OISnapshotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, market_type, oi_tokens, oi_usd, funding_rate, status, attributes, created_at
		FROM oi_snapshots
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query oi snapshots by symbol: %w", err)
	}
	defer rows.Close()

	var out []persistence.OISnapshotRecord
	for rows.Next() {
		rec, err := scanOISnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *oiRepo) GetLatest(ctx context.Context, symbol string) (*persistence.OISnapshotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, market_type, oi_tokens, oi_usd, funding_rate, status, attributes, created_at
		FROM oi_snapshots
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, symbol)
	rec, err := scanOISnapshotRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest oi snapshot: %w", err)
	}
	return rec, nil
}

func (r *oiRepo) Count(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM oi_snapshots WHERE ts >= $1 AND ts <= $2`,
		tr.From, tr.To).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count oi snapshots: %w", err)
	}
	return count, nil
}

func scanOISnapshot(rows *sqlx.Rows) (*persistence.OISnapshotRecord, error) {
	var rec persistence.OISnapshotRecord
	var attrJSON []byte

	err := rows.Scan(
		&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Venue, &rec.MarketType,
		&rec.OITokens, &rec.OIUSD, &rec.FundingRate, &rec.Status,
		&attrJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	} else {
		rec.Attributes = make(map[string]interface{})
	}
	return &rec, nil
}

func scanOISnapshotRow(row *sqlx.Row) (*persistence.OISnapshotRecord, error) {
	var rec persistence.OISnapshotRecord
	var attrJSON []byte

	err := row.Scan(
		&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Venue, &rec.MarketType,
		&rec.OITokens, &rec.OIUSD, &rec.FundingRate, &rec.Status,
		&attrJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
	} else {
		rec.Attributes = make(map[string]interface{})
	}
	return &rec, nil
}
