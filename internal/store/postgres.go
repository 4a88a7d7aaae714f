package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// schema creates the mirror tables. All monetary values are NUMERIC for
// exact decimal precision; bin distributions are JSONB.
const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id                   BIGINT PRIMARY KEY,
	owner                TEXT    NOT NULL,
	qty                  NUMERIC NOT NULL,
	leverage             NUMERIC NOT NULL,
	taker_margin         NUMERIC NOT NULL,
	maker_margin         NUMERIC NOT NULL,
	trading_fee          NUMERIC NOT NULL,
	max_allowed_fee      NUMERIC NOT NULL,
	bins                 JSONB   NOT NULL,
	entry_oracle_version BIGINT  NOT NULL,
	open_timestamp       BIGINT  NOT NULL,
	status               TEXT    NOT NULL,
	closed_timestamp     BIGINT  NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions (status);

CREATE TABLE IF NOT EXISTS settlements (
	id            UUID PRIMARY KEY,
	position_id   BIGINT  NOT NULL UNIQUE,
	owner         TEXT    NOT NULL,
	kind          TEXT    NOT NULL,
	entry_version BIGINT  NOT NULL,
	exit_version  BIGINT  NOT NULL,
	entry_price   NUMERIC NOT NULL,
	exit_price    NUMERIC NOT NULL,
	leveraged_qty NUMERIC NOT NULL,
	pnl           NUMERIC NOT NULL,
	interest_fee  NUMERIC NOT NULL,
	keeper_fee    NUMERIC NOT NULL,
	net           NUMERIC NOT NULL,
	timestamp     BIGINT  NOT NULL
);
CREATE INDEX IF NOT EXISTS settlements_owner_idx ON settlements (owner, timestamp);

CREATE TABLE IF NOT EXISTS liquidity_receipts (
	id                       BIGINT PRIMARY KEY,
	owner                    TEXT    NOT NULL,
	tier                     INTEGER NOT NULL,
	amount                   NUMERIC NOT NULL,
	kind                     TEXT    NOT NULL,
	requested_oracle_version BIGINT  NOT NULL,
	timestamp                BIGINT  NOT NULL
);
`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the mirror tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Position) error {
	bins, err := json.Marshal(p.Bins)
	if err != nil {
		return fmt.Errorf("encode bins for position %d: %w", p.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO positions (id, owner, qty, leverage, taker_margin, maker_margin, trading_fee,
		                        max_allowed_fee, bins, entry_oracle_version, open_timestamp, status, closed_timestamp)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8::NUMERIC, $9::JSONB, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, closed_timestamp = EXCLUDED.closed_timestamp`,
		int64(p.ID), p.Owner, p.Qty.String(), p.Leverage.String(),
		p.TakerMargin.String(), p.MakerMargin.String(), p.TradingFee.String(),
		p.MaxAllowedFee.String(), string(bins), int64(p.EntryOracleVersion),
		p.OpenTimestamp, string(p.Status), p.ClosedTimestamp,
	)
	return err
}

func (s *PostgresStore) UpdatePositionStatus(ctx context.Context, id uint64, status model.PositionStatus, closedAt int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = $2, closed_timestamp = $3 WHERE id = $1`,
		int64(id), string(status), closedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: position %d", ErrNotFound, id)
	}
	return nil
}

const positionColumns = `id, owner, qty::TEXT, leverage::TEXT, taker_margin::TEXT, maker_margin::TEXT,
	trading_fee::TEXT, max_allowed_fee::TEXT, bins::TEXT, entry_oracle_version, open_timestamp,
	status, closed_timestamp`

func (s *PostgresStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, int64(id))
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, status model.PositionStatus) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE $1 = '' OR status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, position_id, owner, kind, entry_version, exit_version,
		                          entry_price, exit_price, leveraged_qty, pnl, interest_fee, keeper_fee, net, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
		         $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14)`,
		st.ID, int64(st.PositionID), st.Owner, string(st.Kind),
		int64(st.EntryVersion), int64(st.ExitVersion),
		st.EntryPrice.String(), st.ExitPrice.String(), st.LeveragedQty.String(),
		st.PnL.String(), st.InterestFee.String(), st.KeeperFee.String(), st.Net.String(),
		st.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListSettlements(ctx context.Context, owner string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, position_id, owner, kind, entry_version, exit_version,
		        entry_price::TEXT, exit_price::TEXT, leveraged_qty::TEXT, pnl::TEXT,
		        interest_fee::TEXT, keeper_fee::TEXT, net::TEXT, timestamp
		 FROM settlements WHERE $1 = '' OR owner = $1 ORDER BY timestamp, position_id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var posID, entryV, exitV int64
		var kind, entryP, exitP, lq, pnl, interest, keeper, net string
		if err := rows.Scan(&st.ID, &posID, &st.Owner, &kind, &entryV, &exitV,
			&entryP, &exitP, &lq, &pnl, &interest, &keeper, &net, &st.Timestamp); err != nil {
			return nil, err
		}
		st.PositionID = uint64(posID)
		st.Kind = model.SettlementKind(kind)
		st.EntryVersion = uint64(entryV)
		st.ExitVersion = uint64(exitV)
		st.EntryPrice, _ = decimal.NewFromString(entryP)
		st.ExitPrice, _ = decimal.NewFromString(exitP)
		st.LeveragedQty, _ = decimal.NewFromString(lq)
		st.PnL, _ = decimal.NewFromString(pnl)
		st.InterestFee, _ = decimal.NewFromString(interest)
		st.KeeperFee, _ = decimal.NewFromString(keeper)
		st.Net, _ = decimal.NewFromString(net)
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SaveReceipt(ctx context.Context, r *model.LiquidityReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidity_receipts (id, owner, tier, amount, kind, requested_oracle_version, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		int64(r.ID), r.Owner, r.Tier, r.Amount.String(), string(r.Kind),
		int64(r.RequestedOracleVersion), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) DeleteReceipt(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM liquidity_receipts WHERE id = $1`, int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: receipt %d", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListReceipts(ctx context.Context, owner string) ([]model.LiquidityReceipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, tier, amount::TEXT, kind, requested_oracle_version, timestamp
		 FROM liquidity_receipts WHERE $1 = '' OR owner = $1 ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.LiquidityReceipt
	for rows.Next() {
		var r model.LiquidityReceipt
		var id, version int64
		var amount, kind string
		if err := rows.Scan(&id, &r.Owner, &r.Tier, &amount, &kind, &version, &r.Timestamp); err != nil {
			return nil, err
		}
		r.ID = uint64(id)
		r.Kind = model.ReceiptKind(kind)
		r.RequestedOracleVersion = uint64(version)
		r.Amount, _ = decimal.NewFromString(amount)
		result = append(result, r)
	}
	return result, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var id, entryV int64
	var qty, lev, taker, maker, fee, maxFee, bins, status string

	if err := row.Scan(&id, &p.Owner, &qty, &lev, &taker, &maker,
		&fee, &maxFee, &bins, &entryV, &p.OpenTimestamp,
		&status, &p.ClosedTimestamp); err != nil {
		return nil, err
	}

	p.ID = uint64(id)
	p.EntryOracleVersion = uint64(entryV)
	p.Status = model.PositionStatus(status)
	p.Qty, _ = decimal.NewFromString(qty)
	p.Leverage, _ = decimal.NewFromString(lev)
	p.TakerMargin, _ = decimal.NewFromString(taker)
	p.MakerMargin, _ = decimal.NewFromString(maker)
	p.TradingFee, _ = decimal.NewFromString(fee)
	p.MaxAllowedFee, _ = decimal.NewFromString(maxFee)
	if err := json.Unmarshal([]byte(bins), &p.Bins); err != nil {
		return nil, fmt.Errorf("decode bins for position %d: %w", p.ID, err)
	}
	return &p, nil
}
