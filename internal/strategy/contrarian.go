package strategy

import (
	"fmt"
	"strings"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/indicator"
)

// Contrarian rule thresholds. Tunable at build time only.
const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0

	rsiWeight       = 0.35
	volumeWeight    = 0.25
	bandWeight      = 0.25
	crossWeight     = 0.15
	confidenceFloor = 0.5
)

// Contrarian is the mean-reversion rule set: buy oversold extremes confirmed
// by volume or a band breakdown, sell overbought extremes confirmed by
// cooling volume or a band breakout.
type Contrarian struct{}

// NewContrarian returns the contrarian rule evaluator.
func NewContrarian() *Contrarian {
	return &Contrarian{}
}

// Name returns the strategy name.
func (c *Contrarian) Name() string {
	return "contrarian"
}

// EvaluateBuy checks the entry rule against a snapshot. The trigger requires
// RSI below the oversold threshold plus either a volume spike or a close
// below the lower Bollinger band. Confidence is the weighted sum of the
// satisfied conditions, floored at 0.5 when the rule triggers.
func (c *Contrarian) EvaluateBuy(snap *Snapshot) (bool, float64, string) {
	if !indicator.IsDefined(snap.RSI) {
		return false, 0, "RSI is not available"
	}

	var conditions []string
	confidence := 0.0

	oversold := snap.RSI < RSIOversold
	if oversold {
		depth := 1.5 * (RSIOversold - snap.RSI) / RSIOversold
		if depth > 1 {
			depth = 1
		}
		confidence += rsiWeight * depth
		conditions = append(conditions, fmt.Sprintf("RSI oversold (%.1f)", snap.RSI))
	}
	if snap.VolumeSpike {
		confidence += volumeWeight
		conditions = append(conditions, "volume spike")
	}
	if snap.BelowLowerBand {
		confidence += bandWeight
		conditions = append(conditions, "price below lower Bollinger band")
	}
	if snap.GoldenCross {
		confidence += crossWeight
		conditions = append(conditions, "golden cross")
	}

	triggered := oversold && (snap.VolumeSpike || snap.BelowLowerBand)
	if triggered && confidence < confidenceFloor {
		confidence = confidenceFloor
	}
	if len(conditions) == 0 {
		return false, confidence, "no buy conditions met"
	}
	return triggered, confidence, strings.Join(conditions, ", ")
}

// EvaluateSell checks the exit rule against a snapshot. The trigger requires
// RSI above the overbought threshold plus either no volume spike on the bar
// or a close above the upper Bollinger band.
func (c *Contrarian) EvaluateSell(snap *Snapshot) (bool, float64, string) {
	if !indicator.IsDefined(snap.RSI) {
		return false, 0, "RSI is not available"
	}

	var conditions []string
	confidence := 0.0

	overbought := snap.RSI > RSIOverbought
	if overbought {
		height := 1.5 * (snap.RSI - RSIOverbought) / (100 - RSIOverbought)
		if height > 1 {
			height = 1
		}
		confidence += rsiWeight * height
		conditions = append(conditions, fmt.Sprintf("RSI overbought (%.1f)", snap.RSI))
	}
	// The source treats "no spike on this bar" as cooling volume; kept as-is.
	volumeCalm := !snap.VolumeSpike
	if volumeCalm {
		confidence += volumeWeight
		conditions = append(conditions, "volume cooling off")
	}
	if snap.AboveUpperBand {
		confidence += bandWeight
		conditions = append(conditions, "price above upper Bollinger band")
	}
	if snap.DeathCross {
		confidence += crossWeight
		conditions = append(conditions, "death cross")
	}

	triggered := overbought && (volumeCalm || snap.AboveUpperBand)
	if triggered && confidence < confidenceFloor {
		confidence = confidenceFloor
	}
	if !overbought {
		// Volume alone never sells; keep the reason focused on why not.
		return false, confidence, "RSI not overbought"
	}
	return triggered, confidence, strings.Join(conditions, ", ")
}
