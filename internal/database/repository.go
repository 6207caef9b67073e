package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned for lookups of rows that do not exist.
var ErrNotFound = errors.New("not found")

// Repository provides data access for users, watchlists, and trade history.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over a connected pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email, password_hash, trading_mode,
	COALESCE(notifier_channel, ''), dry_run, active, created_at, updated_at, last_tick_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TradingMode,
		&u.NotifierChannel, &u.DryRun, &u.Active, &u.CreatedAt, &u.UpdatedAt, &u.LastTickAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListActiveUsers returns every user the scheduler should tick.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GetUserByID fetches one user.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail fetches one user by email, for login.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// CreateUser inserts a user and returns it with the assigned ID.
func (r *Repository) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2)
		 RETURNING `+userColumns, email, passwordHash))
}

// UpdateUserMode switches a user between AUTO and ALERT.
func (r *Repository) UpdateUserMode(ctx context.Context, userID int64, mode string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET trading_mode = $2, updated_at = NOW() WHERE id = $1`, userID, mode)
	if err != nil {
		return fmt.Errorf("updating trading mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchUserTick records when the user's last trading tick ran.
func (r *Repository) TouchUserTick(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_tick_at = $2 WHERE id = $1`, userID, at)
	return err
}

// GetUserWatchlist returns the active stock codes one user tracks.
func (r *Repository) GetUserWatchlist(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT stock_code FROM watchlist WHERE user_id = $1 AND active ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GetWatchlistItems returns the full watchlist rows for one user.
func (r *Repository) GetWatchlistItems(ctx context.Context, userID int64) ([]WatchlistItem, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, stock_code, stock_name, target_price, stop_loss_price,
		        quantity, active, created_at
		 FROM watchlist WHERE user_id = $1 AND active ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist items: %w", err)
	}
	defer rows.Close()

	var items []WatchlistItem
	for rows.Next() {
		var it WatchlistItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.StockCode, &it.StockName,
			&it.TargetPrice, &it.StopLossPrice, &it.Quantity, &it.Active, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetWatchlistOverride returns the per-stock risk overrides for one stock,
// or ErrNotFound when the stock is not on the user's active watchlist.
func (r *Repository) GetWatchlistOverride(ctx context.Context, userID int64, stockCode string) (*WatchlistOverride, error) {
	var ov WatchlistOverride
	err := r.db.Pool.QueryRow(ctx,
		`SELECT target_price, stop_loss_price, quantity
		 FROM watchlist WHERE user_id = $1 AND stock_code = $2 AND active`,
		userID, stockCode).Scan(&ov.TargetPrice, &ov.StopLossPrice, &ov.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading watchlist override: %w", err)
	}
	return &ov, nil
}

// AddWatchlistItem upserts one watchlist row, reactivating a removed one.
func (r *Repository) AddWatchlistItem(ctx context.Context, it *WatchlistItem) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO watchlist (user_id, stock_code, stock_name, target_price, stop_loss_price, quantity)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, stock_code) DO UPDATE SET
		   stock_name = EXCLUDED.stock_name,
		   target_price = EXCLUDED.target_price,
		   stop_loss_price = EXCLUDED.stop_loss_price,
		   quantity = EXCLUDED.quantity,
		   active = TRUE`,
		it.UserID, it.StockCode, it.StockName, it.TargetPrice, it.StopLossPrice, it.Quantity)
	if err != nil {
		return fmt.Errorf("adding watchlist item: %w", err)
	}
	return nil
}

// RemoveWatchlistItem deactivates one watchlist row.
func (r *Repository) RemoveWatchlistItem(ctx context.Context, userID int64, stockCode string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE watchlist SET active = FALSE WHERE user_id = $1 AND stock_code = $2`,
		userID, stockCode)
	if err != nil {
		return fmt.Errorf("removing watchlist item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTrade appends one executed order to the trade history.
func (r *Repository) RecordTrade(ctx context.Context, t *TradeRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO trade_history (user_id, stock_code, side, quantity, price, order_id, reason, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.UserID, t.StockCode, t.Side, t.Quantity, t.Price, t.OrderID, t.Reason, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("recording trade: %w", err)
	}
	return nil
}

// GetTradesSince returns a user's trades executed at or after the cutoff,
// newest first.
func (r *Repository) GetTradesSince(ctx context.Context, userID int64, since time.Time) ([]TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, user_id, stock_code, side, quantity, price, order_id, reason, executed_at
		 FROM trade_history WHERE user_id = $1 AND executed_at >= $2
		 ORDER BY executed_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.UserID, &t.StockCode, &t.Side, &t.Quantity,
			&t.Price, &t.OrderID, &t.Reason, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
