// Package alert holds pending trade alerts awaiting human approval. Alerts
// live for five minutes; approval consumes an alert through an atomic pop so
// concurrent approvals and the expiry sweeper never double-act.
package alert

import (
	"context"
	"errors"
	"time"
)

const (
	// TTL is how long a pending alert stays actionable.
	TTL = 5 * time.Minute

	// LockTTL bounds how long a pop lock can be held before it self-releases.
	LockTTL = 10 * time.Second
)

// ErrNotFound means the alert never existed, was already consumed, or expired.
var ErrNotFound = errors.New("alert not found")

// Info is one pending trade alert.
type Info struct {
	AlertID           string    `json:"alert_id"`
	UserID            int64     `json:"user_id"`
	StockCode         string    `json:"stock_code"`
	StockName         string    `json:"stock_name"`
	SignalType        string    `json:"signal_type"` // BUY or SELL
	Confidence        float64   `json:"confidence"`
	CurrentPrice      float64   `json:"current_price"`
	SuggestedQuantity int       `json:"suggested_quantity"`
	Reason            string    `json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// Expired reports whether the alert is past its TTL at the given time.
func (a *Info) Expired(now time.Time) bool {
	return now.After(a.CreatedAt.Add(TTL))
}

// Store is a TTL'd key-value store of pending alerts. Save overwrites.
// Get filters expired alerts; Pop and PopAtomic consume and return whatever
// is stored, expired or not, so the caller can tell an expired alert apart
// from a missing one. PopAtomic additionally guarantees that of any number
// of concurrent callers exactly one receives the alert. Delete reports
// whether an alert was actually present.
type Store interface {
	Save(ctx context.Context, a *Info) error
	Get(ctx context.Context, id string) (*Info, error)
	Pop(ctx context.Context, id string) (*Info, error)
	PopAtomic(ctx context.Context, id string) (*Info, error)
	Delete(ctx context.Context, id string) (bool, error)
	GetAll(ctx context.Context) ([]*Info, error)
}
