package database

import "time"

// User is one account in the system. TradingMode selects AUTO or ALERT for
// the user's engine; NotifierChannel is the destination for pending alerts.
type User struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	TradingMode     string     `json:"trading_mode"`
	NotifierChannel string     `json:"notifier_channel,omitempty"`
	DryRun          bool       `json:"dry_run"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastTickAt      *time.Time `json:"last_tick_at,omitempty"`
}

// WatchlistItem is one stock a user tracks, with optional per-stock risk
// overrides. Nil pointer fields mean the default percentage rules apply.
type WatchlistItem struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	StockCode     string    `json:"stock_code"`
	StockName     string    `json:"stock_name"`
	TargetPrice   *float64  `json:"target_price,omitempty"`
	StopLossPrice *float64  `json:"stop_loss_price,omitempty"`
	Quantity      *int      `json:"quantity,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// WatchlistOverride carries the per-stock risk overrides of one item.
type WatchlistOverride struct {
	TargetPrice   *float64
	StopLossPrice *float64
	Quantity      *int
}

// TradeRecord is one executed order, kept for daily PnL and audit.
type TradeRecord struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	StockCode  string    `json:"stock_code"`
	Side       string    `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"`
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	ExecutedAt time.Time `json:"executed_at"`
}
