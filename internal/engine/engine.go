// Package engine orchestrates one user's trading loop: per tick it takes a
// price snapshot, runs risk checks on open positions, generates signals for
// the watchlist, and resolves each outcome into a market order (AUTO mode)
// or a pending alert awaiting approval (ALERT mode).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/alert"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/broker"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/events"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/risk"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/strategy"
)

// Mode decides how a signal is acted on.
type Mode string

const (
	// ModeAuto executes orders directly against the broker.
	ModeAuto Mode = "AUTO"
	// ModeAlert queues a pending alert and waits for human approval.
	ModeAlert Mode = "ALERT"
)

// Alert lifecycle outcomes. "Not found" covers never-existed, already
// consumed, and evicted-by-TTL; "expired" means the alert was still stored
// but past its deadline when approval arrived.
var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrAlertExpired  = errors.New("alert expired")
)

// Notifier delivers a pending alert to the user's channel. Implementations
// must be idempotent on alert ID; delivery failure never invalidates the
// stored alert.
type Notifier interface {
	SendAlert(ctx context.Context, channel string, a *alert.Info) error
}

// OverrideLookup resolves per-stock risk overrides from the user's
// watchlist. A nil override means the percentage rules apply unchanged.
type OverrideLookup func(ctx context.Context, userID int64, stockCode string) (*risk.Override, error)

// TradeRecorder persists executed orders to trade history. A recording
// failure never unwinds the order; it is logged and the tick continues.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, t *database.TradeRecord) error
}

// Config is the per-user engine configuration.
type Config struct {
	UserID  int64
	Mode    Mode
	Channel string // notifier destination
	DryRun  bool   // log intended orders instead of placing them
}

// Deps are the engine's collaborators. Broker, Risk, and Alerts are
// required; the rest may be nil.
type Deps struct {
	Broker    broker.Client
	Risk      *risk.Manager
	Alerts    alert.Store
	Notifier  Notifier
	Bus       *events.Bus
	Log       *logging.Logger
	Overrides OverrideLookup
	Trades    TradeRecorder
}

// TradingLoopResult summarizes one tick for one user. Errors collects
// per-stock failures; a non-empty slice does not mean the tick failed.
type TradingLoopResult struct {
	ProcessedStocks  int      `json:"processed_stocks"`
	SignalsGenerated int      `json:"signals_generated"`
	OrdersExecuted   int      `json:"orders_executed"`
	AlertsSent       int      `json:"alerts_sent"`
	Errors           []string `json:"errors,omitempty"`
}

// Engine runs the trading loop for one user. Ticks for the same user never
// overlap (the scheduler guarantees it), so the trailing-stop map is
// single-writer; the mutex only guards against API reads racing a tick.
type Engine struct {
	config   Config
	broker   broker.Client
	risk     *risk.Manager
	signals  *strategy.Generator
	alerts   alert.Store
	notifier Notifier
	bus      *events.Bus
	log      *logging.Logger
	lookup   OverrideLookup
	trades   TradeRecorder

	mu            sync.Mutex
	trailingStops map[string]*risk.TrailingStop
	dailyPnLPct   float64
	lastTickAt    time.Time
	lastResult    *TradingLoopResult

	now func() time.Time
}

// New creates a trading engine for one user.
func New(config Config, deps Deps) *Engine {
	if config.Mode == "" {
		config.Mode = ModeAlert
	}
	log := deps.Log
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		config:        config,
		broker:        deps.Broker,
		risk:          deps.Risk,
		signals:       strategy.NewGenerator(),
		alerts:        deps.Alerts,
		notifier:      deps.Notifier,
		bus:           deps.Bus,
		log:           log.WithComponent("engine").WithUser(config.UserID),
		lookup:        deps.Overrides,
		trades:        deps.Trades,
		trailingStops: make(map[string]*risk.TrailingStop),
		now:           time.Now,
	}
}

// Mode returns the engine's trading mode.
func (e *Engine) Mode() Mode {
	return e.config.Mode
}

// SetDailyPnL records the day's realized PnL percentage. The scheduler sets
// it at the start of each tick; the daily-loss halt reads it.
func (e *Engine) SetDailyPnL(pct float64) {
	e.mu.Lock()
	e.dailyPnLPct = pct
	e.mu.Unlock()
}

// RunTradingLoop executes one tick: batch-fetch prices, risk-check each
// position, scan the watchlist, act per mode. Per-stock failures are
// contained in the result; only a failed price batch aborts the tick.
func (e *Engine) RunTradingLoop(ctx context.Context, watchlist []string, positions []broker.Position) *TradingLoopResult {
	result := &TradingLoopResult{}
	if len(watchlist) == 0 && len(positions) == 0 {
		return result
	}

	codes := uniqueCodes(watchlist, positions)
	prices, err := e.broker.GetStockPrices(ctx, codes)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("price fetch: %v", err))
		e.log.Error("price batch failed, aborting tick", "error", err)
		return result
	}

	quote := make(map[string]broker.StockPrice, len(prices))
	for _, p := range prices {
		quote[p.Code] = p
	}

	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.StockCode] = true
		if err := e.processPosition(ctx, pos, quote, len(positions), result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", pos.StockCode, err))
		}
	}

	for _, code := range watchlist {
		if held[code] {
			continue
		}
		if err := e.processWatchlistStock(ctx, code, quote, len(positions), result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", code, err))
		}
	}

	if e.bus != nil {
		e.bus.PublishTickCompleted(e.config.UserID, result.ProcessedStocks,
			result.SignalsGenerated, result.OrdersExecuted, result.AlertsSent, len(result.Errors))
	}

	e.mu.Lock()
	e.lastTickAt = e.now()
	e.lastResult = result
	e.mu.Unlock()
	return result
}

// processPosition runs the exit rules for one held position. A risk trigger
// preempts signal evaluation entirely.
func (e *Engine) processPosition(ctx context.Context, pos broker.Position, quote map[string]broker.StockPrice, positionCount int, result *TradingLoopResult) error {
	p, ok := quote[pos.StockCode]
	if !ok {
		e.log.Warn("no quote for held position, skipping", "stock_code", pos.StockCode)
		return nil
	}
	result.ProcessedStocks++

	trailing := e.ensureTrailingStop(pos.StockCode, pos.AvgPrice)
	trailing.UpdatePrice(p.CurrentPrice)

	ov, err := e.overrideFor(ctx, pos.StockCode)
	if err != nil {
		e.log.Warn("override lookup failed, using defaults", "stock_code", pos.StockCode, "error", err)
	}

	check := e.risk.CheckPositionWithOverride(pos.AvgPrice, p.CurrentPrice, trailing, ov)
	if check.Action.Triggered() {
		logging.RiskContext(e.config.UserID, pos.StockCode, check.CurrentProfitPct).Info(
			"risk rule triggered", "action", string(check.Action), "reason", check.Reason)
		if e.bus != nil {
			e.bus.PublishRiskTriggered(e.config.UserID, pos.StockCode, string(check.Action), check.Reason, check.CurrentProfitPct)
		}

		sig := &strategy.Signal{Type: strategy.SignalSell, Confidence: 1.0, Reason: check.Reason}
		sold, err := e.executeSell(ctx, pos, p, sig, result)
		if err != nil {
			return err
		}
		if sold {
			e.removeTrailingStop(pos.StockCode)
		}
		return nil
	}

	sig, err := e.signalFor(ctx, pos.StockCode, result)
	if err != nil {
		return err
	}
	if sig.Type == strategy.SignalSell {
		sold, err := e.executeSell(ctx, pos, p, sig, result)
		if err != nil {
			return err
		}
		if sold {
			e.removeTrailingStop(pos.StockCode)
		}
	}
	return nil
}

// processWatchlistStock evaluates one non-held stock for entry.
func (e *Engine) processWatchlistStock(ctx context.Context, code string, quote map[string]broker.StockPrice, positionCount int, result *TradingLoopResult) error {
	p, ok := quote[code]
	if !ok {
		e.log.Warn("no quote for watchlist stock, skipping", "stock_code", code)
		return nil
	}
	result.ProcessedStocks++

	sig, err := e.signalFor(ctx, code, result)
	if err != nil {
		return err
	}
	if sig.Type != strategy.SignalBuy || sig.Confidence < 0.5 {
		return nil
	}
	return e.executeBuy(ctx, code, p, sig, positionCount, result)
}

// signalFor fetches daily history and generates a signal for one stock.
func (e *Engine) signalFor(ctx context.Context, code string, result *TradingLoopResult) (*strategy.Signal, error) {
	bars, err := e.broker.GetDailyPrices(ctx, code, broker.DefaultDailyPriceCount)
	if err != nil {
		return nil, fmt.Errorf("daily prices: %w", err)
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = float64(b.Volume)
	}

	sig, err := e.signals.Generate(closes, volumes)
	if err != nil {
		return nil, fmt.Errorf("signal generation: %w", err)
	}
	result.SignalsGenerated++

	if sig.Type != strategy.SignalHold {
		price := 0.0
		if sig.Indicators != nil {
			price = sig.Indicators.CurrentPrice
		}
		logging.SignalContext(e.config.UserID, code, string(sig.Type), sig.Confidence).Info(
			"signal generated", "reason", sig.Reason)
		if e.bus != nil {
			e.bus.PublishSignal(e.config.UserID, code, string(sig.Type), sig.Reason, sig.Confidence, price)
		}
	}
	return sig, nil
}

// executeSell resolves a SELL signal for a held position. Returns whether an
// order was actually placed (AUTO) so the caller can drop the trailing stop.
func (e *Engine) executeSell(ctx context.Context, pos broker.Position, p broker.StockPrice, sig *strategy.Signal, result *TradingLoopResult) (bool, error) {
	if e.config.Mode == ModeAlert {
		return false, e.sendAlert(ctx, p, strategy.SignalSell, sig, pos.Quantity, result)
	}

	if e.config.DryRun {
		e.log.Info("dry run, sell order suppressed",
			"stock_code", pos.StockCode, "quantity", pos.Quantity, "reason", sig.Reason)
		return false, nil
	}

	order, err := e.broker.PlaceOrder(ctx, pos.StockCode, broker.SideSell, pos.Quantity, nil)
	if err != nil {
		return false, fmt.Errorf("sell order: %w", err)
	}
	if !order.Success {
		e.log.Warn("sell order rejected", "stock_code", pos.StockCode, "message", order.Message)
		return false, nil
	}

	result.OrdersExecuted++
	logging.OrderContext(e.config.UserID, pos.StockCode, string(broker.SideSell), pos.Quantity).Info(
		"sell order placed", "order_id", order.OrderID, "reason", sig.Reason)
	if e.bus != nil {
		e.bus.PublishOrderPlaced(e.config.UserID, order.OrderID, pos.StockCode, string(broker.SideSell), pos.Quantity, p.CurrentPrice)
	}
	e.recordTrade(ctx, pos.StockCode, broker.SideSell, pos.Quantity, p.CurrentPrice, order.OrderID, sig.Reason)
	return true, nil
}

// executeBuy resolves a BUY signal for a watchlist stock: size the position,
// pass the entry gates, then order or alert per mode.
func (e *Engine) executeBuy(ctx context.Context, code string, p broker.StockPrice, sig *strategy.Signal, positionCount int, result *TradingLoopResult) error {
	available := 0.0
	if balance, err := e.broker.GetBalance(ctx); err != nil {
		e.log.Warn("balance fetch failed, assuming zero", "error", err)
	} else {
		available = balance.AvailableAmount
	}

	quantity := e.risk.CalculatePositionSize(available, p.CurrentPrice)
	if quantity == 0 {
		e.log.Debug("position size is zero, skipping buy", "stock_code", code, "available", available)
		return nil
	}

	e.mu.Lock()
	dailyPnL := e.dailyPnLPct
	e.mu.Unlock()

	investment := p.CurrentPrice * float64(quantity)
	allowed, reason := e.risk.CanOpenPosition(investment, positionCount, dailyPnL)
	if !allowed {
		e.log.Info("entry denied", "stock_code", code, "reason", reason)
		return nil
	}

	if e.config.Mode == ModeAlert {
		return e.sendAlert(ctx, p, strategy.SignalBuy, sig, quantity, result)
	}

	if e.config.DryRun {
		e.log.Info("dry run, buy order suppressed",
			"stock_code", code, "quantity", quantity, "reason", sig.Reason)
		return nil
	}

	order, err := e.broker.PlaceOrder(ctx, code, broker.SideBuy, quantity, nil)
	if err != nil {
		return fmt.Errorf("buy order: %w", err)
	}
	if !order.Success {
		e.log.Warn("buy order rejected", "stock_code", code, "message", order.Message)
		return nil
	}

	result.OrdersExecuted++
	logging.OrderContext(e.config.UserID, code, string(broker.SideBuy), quantity).Info(
		"buy order placed", "order_id", order.OrderID, "reason", sig.Reason)
	if e.bus != nil {
		e.bus.PublishOrderPlaced(e.config.UserID, order.OrderID, code, string(broker.SideBuy), quantity, p.CurrentPrice)
	}
	e.recordTrade(ctx, code, broker.SideBuy, quantity, p.CurrentPrice, order.OrderID, sig.Reason)
	return nil
}

// sendAlert stores a pending alert and notifies the user. Storage is the
// source of truth; a notifier failure is logged and the alert stays valid.
func (e *Engine) sendAlert(ctx context.Context, p broker.StockPrice, kind strategy.SignalType, sig *strategy.Signal, quantity int, result *TradingLoopResult) error {
	a := &alert.Info{
		AlertID:           uuid.New().String(),
		UserID:            e.config.UserID,
		StockCode:         p.Code,
		StockName:         p.Name,
		SignalType:        string(kind),
		Confidence:        sig.Confidence,
		CurrentPrice:      p.CurrentPrice,
		SuggestedQuantity: quantity,
		Reason:            sig.Reason,
		CreatedAt:         e.now(),
	}

	if err := e.alerts.Save(ctx, a); err != nil {
		return fmt.Errorf("saving alert: %w", err)
	}
	result.AlertsSent++

	logging.AlertContext(a.AlertID, a.UserID, a.StockCode).Info(
		"alert queued", "signal", a.SignalType, "quantity", a.SuggestedQuantity)
	if e.bus != nil {
		e.bus.PublishAlertCreated(e.config.UserID, a.AlertID, a.StockCode, a.SignalType)
	}

	if e.notifier != nil {
		if err := e.notifier.SendAlert(ctx, e.config.Channel, a); err != nil {
			e.log.Warn("notifier delivery failed, alert remains pending",
				"alert_id", a.AlertID, "error", err)
		}
	}
	return nil
}

// ApproveAlert consumes a pending alert and places its implied market order.
// ErrAlertNotFound and ErrAlertExpired are outcomes, not failures: the first
// also covers an alert already consumed by a concurrent approval.
func (e *Engine) ApproveAlert(ctx context.Context, id string) (*broker.OrderResult, error) {
	a, err := e.alerts.PopAtomic(ctx, id)
	if errors.Is(err, alert.ErrNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}

	if a.Expired(e.now()) {
		if e.bus != nil {
			e.bus.PublishAlertResolved(e.config.UserID, id, "expired")
		}
		return nil, ErrAlertExpired
	}

	side := broker.SideBuy
	if a.SignalType == string(strategy.SignalSell) {
		side = broker.SideSell
	}

	order, err := e.broker.PlaceOrder(ctx, a.StockCode, side, a.SuggestedQuantity, nil)
	if err != nil {
		return nil, fmt.Errorf("approved order: %w", err)
	}

	logging.AlertContext(id, e.config.UserID, a.StockCode).Info(
		"alert approved", "side", string(side), "quantity", a.SuggestedQuantity, "order_id", order.OrderID)
	if e.bus != nil {
		e.bus.PublishAlertResolved(e.config.UserID, id, "approved")
		if order.Success {
			e.bus.PublishOrderPlaced(e.config.UserID, order.OrderID, a.StockCode, string(side), a.SuggestedQuantity, a.CurrentPrice)
		}
	}
	if order.Success {
		e.recordTrade(ctx, a.StockCode, side, a.SuggestedQuantity, a.CurrentPrice, order.OrderID, a.Reason)
	}
	return order, nil
}

// RejectAlert discards a pending alert. Rejecting an unknown alert returns
// ErrAlertNotFound; the store is unchanged either way.
func (e *Engine) RejectAlert(ctx context.Context, id string) error {
	deleted, err := e.alerts.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrAlertNotFound
	}
	e.log.Info("alert rejected", "alert_id", id)
	if e.bus != nil {
		e.bus.PublishAlertResolved(e.config.UserID, id, "rejected")
	}
	return nil
}

// sweeper is implemented by store backends that can prune expired entries.
type sweeper interface {
	Sweep(ctx context.Context) int
}

// CleanupExpiredAlerts removes alerts past their TTL. Idempotent; safe from
// a background task.
func (e *Engine) CleanupExpiredAlerts(ctx context.Context) int {
	if s, ok := e.alerts.(sweeper); ok {
		return s.Sweep(ctx)
	}

	all, err := e.alerts.GetAll(ctx)
	if err != nil {
		e.log.Warn("alert cleanup enumeration failed", "error", err)
		return 0
	}
	removed := 0
	now := e.now()
	for _, a := range all {
		if a.Expired(now) {
			if deleted, err := e.alerts.Delete(ctx, a.AlertID); err == nil && deleted {
				removed++
			}
		}
	}
	return removed
}

// recordTrade appends an executed order to the user's trade history.
func (e *Engine) recordTrade(ctx context.Context, code string, side broker.Side, quantity int, price float64, orderID, reason string) {
	if e.trades == nil {
		return
	}
	rec := &database.TradeRecord{
		UserID:     e.config.UserID,
		StockCode:  code,
		Side:       string(side),
		Quantity:   quantity,
		Price:      price,
		OrderID:    orderID,
		Reason:     reason,
		ExecutedAt: e.now(),
	}
	if err := e.trades.RecordTrade(ctx, rec); err != nil {
		e.log.Warn("failed to record trade",
			"stock_code", code, "order_id", orderID, "error", err)
	}
}

// PendingAlerts lists this user's unexpired alerts.
func (e *Engine) PendingAlerts(ctx context.Context) ([]*alert.Info, error) {
	all, err := e.alerts.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	mine := make([]*alert.Info, 0, len(all))
	for _, a := range all {
		if a.UserID == e.config.UserID {
			mine = append(mine, a)
		}
	}
	return mine, nil
}

// Status is a point-in-time engine summary for the API.
type Status struct {
	UserID        int64              `json:"user_id"`
	Mode          Mode               `json:"mode"`
	DryRun        bool               `json:"dry_run"`
	TrailingStops int                `json:"trailing_stops"`
	DailyPnLPct   float64            `json:"daily_pnl_pct"`
	LastTickAt    *time.Time         `json:"last_tick_at,omitempty"`
	LastTick      *TradingLoopResult `json:"last_tick,omitempty"`
}

// CurrentStatus reports the engine's state.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		UserID:        e.config.UserID,
		Mode:          e.config.Mode,
		DryRun:        e.config.DryRun,
		TrailingStops: len(e.trailingStops),
		DailyPnLPct:   e.dailyPnLPct,
	}
	if !e.lastTickAt.IsZero() {
		at := e.lastTickAt
		st.LastTickAt = &at
		st.LastTick = e.lastResult
	}
	return st
}

func (e *Engine) ensureTrailingStop(code string, entryPrice float64) *risk.TrailingStop {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, ok := e.trailingStops[code]
	if !ok {
		ts = risk.NewTrailingStop(entryPrice, e.risk.Config().TrailingStopPct)
		e.trailingStops[code] = ts
	}
	return ts
}

func (e *Engine) removeTrailingStop(code string) {
	e.mu.Lock()
	delete(e.trailingStops, code)
	e.mu.Unlock()
}

func (e *Engine) overrideFor(ctx context.Context, code string) (*risk.Override, error) {
	if e.lookup == nil {
		return nil, nil
	}
	return e.lookup(ctx, e.config.UserID, code)
}

func uniqueCodes(watchlist []string, positions []broker.Position) []string {
	seen := make(map[string]bool, len(watchlist)+len(positions))
	out := make([]string, 0, len(watchlist)+len(positions))
	for _, code := range watchlist {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	for _, pos := range positions {
		if !seen[pos.StockCode] {
			seen[pos.StockCode] = true
			out = append(out, pos.StockCode)
		}
	}
	return out
}
