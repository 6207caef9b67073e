// Package risk implements position risk checks, entry gates, and position
// sizing for the trading engine. The rules are stateless; the only stateful
// piece is the TrailingStop tracked per open position.
package risk

import (
	"fmt"
	"math"
)

// Action classifies the outcome of a position risk check.
type Action string

const (
	ActionHold         Action = "HOLD"
	ActionStopLoss     Action = "STOP_LOSS"
	ActionTakeProfit   Action = "TAKE_PROFIT"
	ActionTrailingStop Action = "TRAILING_STOP"
)

// Triggered reports whether the action forces an exit.
func (a Action) Triggered() bool {
	return a == ActionStopLoss || a == ActionTakeProfit || a == ActionTrailingStop
}

// Config holds risk management configuration.
type Config struct {
	StopLossPct           float64 `json:"stop_loss_pct"`            // negative, e.g. -5.0
	TakeProfitPct         float64 `json:"take_profit_pct"`          // positive, e.g. 10.0
	TrailingStopEnabled   bool    `json:"trailing_stop_enabled"`    // enable trailing stop exits
	TrailingStopPct       float64 `json:"trailing_stop_pct"`        // distance from high water mark
	MaxInvestmentPerStock float64 `json:"max_investment_per_stock"` // KRW per single stock
	MaxStocks             int     `json:"max_stocks"`               // maximum concurrent positions
	DailyLossLimit        float64 `json:"daily_loss_limit"`         // negative, halts trading for the day
	RiskPerTradePct       float64 `json:"risk_per_trade_pct"`       // capital fraction risked per trade
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		StopLossPct:           -5.0,
		TakeProfitPct:         10.0,
		TrailingStopEnabled:   true,
		TrailingStopPct:       5.0,
		MaxInvestmentPerStock: 1_000_000,
		MaxStocks:             10,
		DailyLossLimit:        -10.0,
		RiskPerTradePct:       2.0,
	}
}

// CheckResult is the outcome of a position risk check.
type CheckResult struct {
	Action           Action
	Reason           string
	CurrentProfitPct float64
	TriggerPrice     float64
}

// Override carries per-stock price levels from the watchlist that take
// precedence over the percentage rules when set.
type Override struct {
	TargetPrice   *float64
	StopLossPrice *float64
}

// Manager evaluates the risk rules against a single configuration.
type Manager struct {
	config *Config
}

// NewManager creates a risk manager. A nil config selects the defaults.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{config: config}
}

// Config returns the active configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// CheckPosition runs the exit rules for one position. Priority: stop loss,
// then take profit, then trailing stop. Stop loss wins even when the take
// profit threshold is simultaneously satisfied.
func (m *Manager) CheckPosition(entryPrice, currentPrice float64, trailing *TrailingStop) CheckResult {
	return m.CheckPositionWithOverride(entryPrice, currentPrice, trailing, nil)
}

// CheckPositionWithOverride is CheckPosition with optional per-stock price
// levels: an absolute stop-loss price or target price from the watchlist
// replaces the corresponding percentage threshold.
func (m *Manager) CheckPositionWithOverride(entryPrice, currentPrice float64, trailing *TrailingStop, ov *Override) CheckResult {
	if entryPrice == 0 {
		return CheckResult{Action: ActionHold, Reason: "invalid entry price"}
	}

	profitPct := (currentPrice - entryPrice) / entryPrice * 100

	stopPrice := entryPrice * (1 + m.config.StopLossPct/100)
	stopHit := profitPct <= m.config.StopLossPct
	if ov != nil && ov.StopLossPrice != nil {
		stopPrice = *ov.StopLossPrice
		stopHit = currentPrice <= stopPrice
	}
	if stopHit {
		return CheckResult{
			Action:           ActionStopLoss,
			Reason:           fmt.Sprintf("stop loss hit (%.2f%%)", profitPct),
			CurrentProfitPct: profitPct,
			TriggerPrice:     stopPrice,
		}
	}

	targetPrice := entryPrice * (1 + m.config.TakeProfitPct/100)
	targetHit := profitPct >= m.config.TakeProfitPct
	if ov != nil && ov.TargetPrice != nil {
		targetPrice = *ov.TargetPrice
		targetHit = currentPrice >= targetPrice
	}
	if targetHit {
		return CheckResult{
			Action:           ActionTakeProfit,
			Reason:           fmt.Sprintf("take profit hit (%.2f%%)", profitPct),
			CurrentProfitPct: profitPct,
			TriggerPrice:     targetPrice,
		}
	}

	if m.config.TrailingStopEnabled && trailing != nil && trailing.IsTriggered(currentPrice) {
		return CheckResult{
			Action:           ActionTrailingStop,
			Reason:           fmt.Sprintf("trailing stop hit (high %.0f, stop %.0f)", trailing.HighestPrice, trailing.StopPrice),
			CurrentProfitPct: profitPct,
			TriggerPrice:     trailing.StopPrice,
		}
	}

	return CheckResult{Action: ActionHold, Reason: "within risk limits", CurrentProfitPct: profitPct}
}

// CanOpenPosition checks the entry gates for a new position. The daily loss
// halt is checked first so a halted day denies everything.
func (m *Manager) CanOpenPosition(investmentAmount float64, currentPositions int, dailyPnLPct float64) (bool, string) {
	if dailyPnLPct <= m.config.DailyLossLimit {
		return false, fmt.Sprintf("daily loss limit reached (%.2f%% <= %.2f%%), trading halted for the day",
			dailyPnLPct, m.config.DailyLossLimit)
	}
	if investmentAmount > m.config.MaxInvestmentPerStock {
		return false, fmt.Sprintf("investment %.0f exceeds per-stock limit %.0f",
			investmentAmount, m.config.MaxInvestmentPerStock)
	}
	if currentPositions >= m.config.MaxStocks {
		return false, fmt.Sprintf("max positions reached (%d/%d)", currentPositions, m.config.MaxStocks)
	}
	return true, ""
}

// CalculatePositionSize returns the share quantity for a new entry: the
// capital fraction risked per trade, scaled by the stop-loss distance,
// capped by the per-stock investment limit.
func (m *Manager) CalculatePositionSize(availableCapital, stockPrice float64) int {
	if stockPrice <= 0 || availableCapital <= 0 {
		return 0
	}

	riskAmount := availableCapital * m.config.RiskPerTradePct / 100

	stopRatio := math.Abs(m.config.StopLossPct) / 100
	if stopRatio == 0 {
		stopRatio = 0.05
	}

	maxInvestmentByRisk := riskAmount / stopRatio
	maxInvestment := math.Min(maxInvestmentByRisk, m.config.MaxInvestmentPerStock)

	return int(math.Floor(maxInvestment / stockPrice))
}
