package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/alert"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/broker"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/events"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/risk"
)

// BrokerFactory resolves the brokerage client for one user. Users sharing
// credentials may share a client; the factory owns that mapping.
type BrokerFactory interface {
	ClientFor(ctx context.Context, userID int64) (broker.Client, error)
}

// Repository is the slice of the database the manager needs.
type Repository interface {
	GetWatchlistOverride(ctx context.Context, userID int64, stockCode string) (*database.WatchlistOverride, error)
	RecordTrade(ctx context.Context, t *database.TradeRecord) error
	TouchUserTick(ctx context.Context, userID int64, at time.Time) error
}

// Manager owns one Engine per active user and runs their ticks. Engines are
// created lazily on first tick and keep their trailing-stop state across
// ticks.
type Manager struct {
	brokers  BrokerFactory
	repo     Repository
	alerts   alert.Store
	notifier Notifier
	bus      *events.Bus
	riskCfg  *risk.Config
	log      *logging.Logger

	mu      sync.Mutex
	engines map[int64]*Engine
}

// NewManager creates an engine manager.
func NewManager(brokers BrokerFactory, repo Repository, alerts alert.Store, notifier Notifier, bus *events.Bus, riskCfg *risk.Config, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		brokers:  brokers,
		repo:     repo,
		alerts:   alerts,
		notifier: notifier,
		bus:      bus,
		riskCfg:  riskCfg,
		log:      log.WithComponent("engine-manager"),
		engines:  make(map[int64]*Engine),
	}
}

// engineFor returns the user's engine, creating it on first use.
func (m *Manager) engineFor(ctx context.Context, user database.User) (*Engine, error) {
	m.mu.Lock()
	if e, ok := m.engines[user.ID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	client, err := m.brokers.ClientFor(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("broker client for user %d: %w", user.ID, err)
	}

	mode := ModeAlert
	if user.TradingMode == string(ModeAuto) {
		mode = ModeAuto
	}

	var lookup OverrideLookup
	if m.repo != nil {
		lookup = func(ctx context.Context, userID int64, code string) (*risk.Override, error) {
			ov, err := m.repo.GetWatchlistOverride(ctx, userID, code)
			if errors.Is(err, database.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &risk.Override{TargetPrice: ov.TargetPrice, StopLossPrice: ov.StopLossPrice}, nil
		}
	}

	e := New(Config{
		UserID:  user.ID,
		Mode:    mode,
		Channel: user.NotifierChannel,
		DryRun:  user.DryRun,
	}, Deps{
		Broker:    client,
		Risk:      risk.NewManager(m.riskCfg),
		Alerts:    m.alerts,
		Notifier:  m.notifier,
		Bus:       m.bus,
		Log:       m.log,
		Overrides: lookup,
		Trades:    m.repo,
	})

	m.mu.Lock()
	// Another tick may have raced us; keep the first engine so trailing
	// stops stay in one place.
	if existing, ok := m.engines[user.ID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.engines[user.ID] = e
	m.mu.Unlock()
	return e, nil
}

// Engine returns the live engine for a user, if one exists yet.
func (m *Manager) Engine(userID int64) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[userID]
	return e, ok
}

// RunUserTick runs one trading tick for one user: resolve the engine, fetch
// positions, seed the day's PnL, and run the loop.
func (m *Manager) RunUserTick(ctx context.Context, user database.User, watchlist []string) (*TradingLoopResult, error) {
	e, err := m.engineFor(ctx, user)
	if err != nil {
		return nil, err
	}

	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions for user %d: %w", user.ID, err)
	}

	e.SetDailyPnL(m.dailyPnL(ctx, e))

	result := e.RunTradingLoop(ctx, watchlist, positions)

	if m.repo != nil {
		if err := m.repo.TouchUserTick(ctx, user.ID, time.Now()); err != nil {
			// The tick-scoped logger carries the trace ID for this fire.
			logging.FromContext(ctx).Warn("failed to record tick time", "user_id", user.ID, "error", err)
		}
	}
	return result, nil
}

// dailyPnL estimates the day's PnL percentage from the account summary.
// A failed fetch reports zero, which never trips the daily-loss halt on its
// own.
func (m *Manager) dailyPnL(ctx context.Context, e *Engine) float64 {
	balance, err := e.broker.GetBalance(ctx)
	if err != nil {
		m.log.Warn("balance fetch for daily PnL failed", "error", err)
		return 0
	}
	if balance.TotalPurchase <= 0 {
		return 0
	}
	return (balance.TotalEvaluation - balance.TotalPurchase) / balance.TotalPurchase * 100
}

// Reset drops a user's engine so the next tick rebuilds it. Used after mode
// or credential changes; trailing-stop state is rebuilt from positions.
func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	delete(m.engines, userID)
	m.mu.Unlock()
}

// ApproveAlert executes a pending alert on the user's engine, creating the
// engine first if the user has not ticked since startup.
func (m *Manager) ApproveAlert(ctx context.Context, user database.User, alertID string) (*broker.OrderResult, error) {
	e, err := m.engineFor(ctx, user)
	if err != nil {
		return nil, err
	}
	return e.ApproveAlert(ctx, alertID)
}

// RejectAlert dismisses a pending alert.
func (m *Manager) RejectAlert(ctx context.Context, user database.User, alertID string) error {
	e, err := m.engineFor(ctx, user)
	if err != nil {
		return err
	}
	return e.RejectAlert(ctx, alertID)
}

// PendingAlerts lists a user's unresolved alerts.
func (m *Manager) PendingAlerts(ctx context.Context, userID int64) ([]*alert.Info, error) {
	alerts, err := m.alerts.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var mine []*alert.Info
	for _, a := range alerts {
		if a.UserID == userID {
			mine = append(mine, a)
		}
	}
	return mine, nil
}

// SweepAlerts prunes expired alerts from the shared store.
func (m *Manager) SweepAlerts(ctx context.Context) int {
	if s, ok := m.alerts.(sweeper); ok {
		return s.Sweep(ctx)
	}
	return 0
}
