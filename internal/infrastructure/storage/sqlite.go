package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_paper_trade/internal/domain"
)

// SQLiteStore is the trade journal. It implements domain.TradeJournal.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL,
			stop_loss REAL,
			take_profit REAL,
			leverage INTEGER,
			status TEXT NOT NULL,
			filled_quantity REAL NOT NULL DEFAULT 0,
			average_fill_price REAL NOT NULL DEFAULT 0,
			is_paper BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			filled_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
		`CREATE TABLE IF NOT EXISTS closed_positions (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			leverage INTEGER NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			is_paper BOOLEAN NOT NULL DEFAULT 1,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL,
			close_reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_positions_symbol ON closed_positions(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_reductions (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			remaining REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			is_paper BOOLEAN NOT NULL DEFAULT 1,
			reduced_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_reductions_position ON position_reductions(position_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// SaveOrder inserts the order or overwrites its mutable columns.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (id, symbol, side, type, quantity, price, stop_loss, take_profit, leverage, status, filled_quantity, average_fill_price, is_paper, created_at, filled_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			  status=excluded.status,
			  filled_quantity=excluded.filled_quantity,
			  average_fill_price=excluded.average_fill_price,
			  filled_at=excluded.filled_at`
	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price, o.StopLoss, o.TakeProfit, o.Leverage,
		o.Status, o.FilledQuantity, o.AverageFillPrice, o.IsPaper, o.CreatedAt, o.FilledAt)
	return err
}

// ListOrders returns the newest orders first.
func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	query := `SELECT id, symbol, side, type, quantity, price, stop_loss, take_profit, leverage, status, filled_quantity, average_fill_price, is_paper, created_at, filled_at
			  FROM orders ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.Price, &o.StopLoss, &o.TakeProfit, &o.Leverage,
			&o.Status, &o.FilledQuantity, &o.AverageFillPrice, &o.IsPaper, &o.CreatedAt, &o.FilledAt); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) SaveClosedPosition(ctx context.Context, c *domain.ClosedPosition) error {
	query := `INSERT INTO closed_positions (id, position_id, symbol, side, quantity, entry_price, exit_price, realized_pnl, leverage, stop_loss, take_profit, is_paper, opened_at, closed_at, close_reason)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.PositionID, c.Symbol, c.Side, c.Quantity, c.EntryPrice, c.ExitPrice, c.RealizedPnL, c.Leverage,
		c.StopLoss, c.TakeProfit, c.IsPaper, c.OpenedAt, c.ClosedAt, c.CloseReason)
	return err
}

// ListClosedPositions returns the most recently closed positions first.
func (s *SQLiteStore) ListClosedPositions(ctx context.Context, limit int) ([]*domain.ClosedPosition, error) {
	query := `SELECT id, position_id, symbol, side, quantity, entry_price, exit_price, realized_pnl, leverage, stop_loss, take_profit, is_paper, opened_at, closed_at, close_reason
			  FROM closed_positions ORDER BY closed_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closed []*domain.ClosedPosition
	for rows.Next() {
		var c domain.ClosedPosition
		if err := rows.Scan(&c.ID, &c.PositionID, &c.Symbol, &c.Side, &c.Quantity, &c.EntryPrice, &c.ExitPrice, &c.RealizedPnL, &c.Leverage,
			&c.StopLoss, &c.TakeProfit, &c.IsPaper, &c.OpenedAt, &c.ClosedAt, &c.CloseReason); err != nil {
			return nil, err
		}
		closed = append(closed, &c)
	}
	return closed, rows.Err()
}

func (s *SQLiteStore) SaveReduction(ctx context.Context, r *domain.PositionReduction) error {
	query := `INSERT INTO position_reductions (id, position_id, symbol, side, quantity, remaining, entry_price, exit_price, realized_pnl, is_paper, reduced_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.PositionID, r.Symbol, r.Side, r.Quantity, r.Remaining, r.EntryPrice, r.ExitPrice, r.RealizedPnL, r.IsPaper, r.ReducedAt)
	return err
}

// ListReductions returns the newest partial closes first.
func (s *SQLiteStore) ListReductions(ctx context.Context, limit int) ([]*domain.PositionReduction, error) {
	query := `SELECT id, position_id, symbol, side, quantity, remaining, entry_price, exit_price, realized_pnl, is_paper, reduced_at
			  FROM position_reductions ORDER BY reduced_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reductions []*domain.PositionReduction
	for rows.Next() {
		var r domain.PositionReduction
		if err := rows.Scan(&r.ID, &r.PositionID, &r.Symbol, &r.Side, &r.Quantity, &r.Remaining, &r.EntryPrice, &r.ExitPrice,
			&r.RealizedPnL, &r.IsPaper, &r.ReducedAt); err != nil {
			return nil, err
		}
		reductions = append(reductions, &r)
	}
	return reductions, rows.Err()
}

// RealizedPnL sums realized profit per symbol over closed positions. Partial
// closes are already included in the closed records.
func (s *SQLiteStore) RealizedPnL(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, SUM(realized_pnl) FROM closed_positions GROUP BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var pnl float64
		if err := rows.Scan(&symbol, &pnl); err != nil {
			return nil, err
		}
		totals[symbol] = pnl
	}
	return totals, rows.Err()
}
