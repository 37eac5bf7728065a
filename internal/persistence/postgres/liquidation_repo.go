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

// liquidationRepo implements persistence.LiquidationRepo for PostgreSQL.
type liquidationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLiquidationRepo creates a new PostgreSQL liquidation repository.
func NewLiquidationRepo(db *sqlx.DB, timeout time.Duration) persistence.LiquidationRepo {
	return &liquidationRepo{db: db, timeout: timeout}
}

func (r *liquidationRepo) Insert(ctx context.Context, rec persistence.LiquidationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !isExchangeNative(rec.Venue) {
		return fmt.Errorf("invalid venue: %s - only exchange-native venues allowed", rec.Venue)
	}

	attrJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO liquidations (ts, symbol, venue, side, price, qty, value_usd, ts_synthetic, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = r.db.QueryRowxContext(ctx, query,
		rec.Timestamp, rec.Symbol, rec.Venue, rec.Side,
		rec.Price, rec.Qty, rec.ValueUSD, rec.Synthetic, attrJSON).
		Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate liquidation: %w", err)
		}
		return fmt.Errorf("failed to insert liquidation: %w", err)
	}
	return nil
}

func (r *liquidationRepo) InsertBatch(ctx context.Context, recs []persistence.LiquidationRecord) error {
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
		INSERT INTO liquidations (ts, symbol, venue, side, price, qty, value_usd, ts_synthetic, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if !isExchangeNative(rec.Venue) {
			return fmt.Errorf("invalid venue in batch: %s - only exchange-native venues allowed", rec.Venue)
		}

		attrJSON, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes for liquidation: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			rec.Timestamp, rec.Symbol, rec.Venue, rec.Side,
			rec.Price, rec.Qty, rec.ValueUSD, rec.Synthetic, attrJSON); err != nil {
			return fmt.Errorf("failed to insert liquidation in batch: %w", err)
		}
	}

	return tx.Commit()
}

func (r *liquidationRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.LiquidationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, value_usd, ts_synthetic, attributes, created_at
		FROM liquidations
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, symbol, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query liquidations by symbol: %w", err)
	}
	defer rows.Close()

	return scanLiquidations(rows)
}

func (r *liquidationRepo) ListByVenue(ctx context.Context, venue string, tr persistence.TimeRange, limit int) ([]persistence.LiquidationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !isExchangeNative(venue) {
		return nil, fmt.Errorf("invalid venue: %s - only exchange-native venues allowed", venue)
	}

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, value_usd, ts_synthetic, attributes, created_at
		FROM liquidations
		WHERE venue = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, venue, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query liquidations by venue: %w", err)
	}
	defer rows.Close()

	return scanLiquidations(rows)
}

func (r *liquidationRepo) GetLatest(ctx context.Context, limit int) ([]persistence.LiquidationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, venue, side, price, qty, value_usd, ts_synthetic, attributes, created_at
		FROM liquidations
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest liquidations: %w", err)
	}
	defer rows.Close()

	return scanLiquidations(rows)
}

func (r *liquidationRepo) Count(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM liquidations WHERE ts >= $1 AND ts <= $2`,
		tr.From, tr.To).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count liquidations: %w", err)
	}
	return count, nil
}

func (r *liquidationRepo) CountByVenue(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT venue, COUNT(*)
		FROM liquidations
		WHERE ts >= $1 AND ts <= $2
		GROUP BY venue
		ORDER BY venue`, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count liquidations by venue: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var venue string
		var count int64
		if err := rows.Scan(&venue, &count); err != nil {
			return nil, fmt.Errorf("failed to scan venue count: %w", err)
		}
		counts[venue] = count
	}
	return counts, nil
}

func scanLiquidations(rows *sqlx.Rows) ([]persistence.LiquidationRecord, error) {
	var out []persistence.LiquidationRecord
	for rows.Next() {
		rec, err := scanLiquidationFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func scanLiquidationFromRows(rows *sqlx.Rows) (*persistence.LiquidationRecord, error) {
	var rec persistence.LiquidationRecord
	var attrJSON []byte

	err := rows.Scan(
		&rec.ID, &rec.Timestamp, &rec.Symbol, &rec.Venue,
		&rec.Side, &rec.Price, &rec.Qty, &rec.ValueUSD, &rec.Synthetic,
		&attrJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
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

// isExchangeNative validates venue against the six supported exchanges.
func isExchangeNative(venue string) bool {
	allowed := map[string]bool{
		"binance":     true,
		"bybit":       true,
		"okx":         true,
		"gateio":      true,
		"bitget":      true,
		"hyperliquid": true,
	}
	return allowed[venue]
}
