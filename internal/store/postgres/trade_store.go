package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// TradeStore implements domain.TradeStore. Token amounts are NUMERIC(78,0)
// and cross the wire as decimal text so no precision is lost.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id::text, kind, token, reference_id, seller, buyer,
	amount::text, unit_price::text, fee::text, total::text, distance_km, executed_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var refID int64
		var amount, unitPrice, fee, total string
		if err := rows.Scan(
			&r.ID, &r.Kind, &r.Token, &refID, &r.Seller, &r.Buyer,
			&amount, &unitPrice, &fee, &total, &r.DistanceKm, &r.ExecutedAt,
		); err != nil {
			return nil, err
		}
		r.ReferenceID = uint64(refID)
		r.Amount = parseNumeric(amount)
		r.UnitPrice = parseNumeric(unitPrice)
		r.Fee = parseNumeric(fee)
		r.Total = parseNumeric(total)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Insert stores one record. A repeated id is ignored.
func (s *TradeStore) Insert(ctx context.Context, r domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			id, kind, token, reference_id, seller, buyer,
			amount, unit_price, fee, total, distance_km, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		r.ID, string(r.Kind), string(r.Token), int64(r.ReferenceID), r.Seller, r.Buyer,
		numericText(r.Amount), numericText(r.UnitPrice), numericText(r.Fee), numericText(r.Total),
		r.DistanceKm, r.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade record %s: %w", r.ID, err)
	}
	return nil
}

// ListByWallet returns records where wallet is buyer or seller, newest first.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_records WHERE (seller = $1 OR buyer = $1)`
	args := []any{wallet}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY executed_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", wallet, err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", wallet, err)
	}
	return out, nil
}

// ListBefore returns every record executed strictly before the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trade_records WHERE executed_at < $1 ORDER BY executed_at`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return out, nil
}

func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseNumeric(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

var _ domain.TradeStore = (*TradeStore)(nil)
