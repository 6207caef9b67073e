package strategy

import "fmt"

// SignalType classifies a trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal is the signal generator's output for one stock at one point in time.
type Signal struct {
	Type       SignalType
	Confidence float64
	Reason     string
	Indicators *Snapshot
}

// MinBars is the shortest history the generator accepts. Below this the
// slow indicators are too unstable to act on.
const MinBars = 30

// conflictPenalty discounts the stronger side when buy and sell both trigger.
const conflictPenalty = 0.8

// Generator turns raw close/volume history into a resolved trading signal.
type Generator struct {
	rules *Contrarian
}

// NewGenerator creates a signal generator over the contrarian rule set.
func NewGenerator() *Generator {
	return &Generator{rules: NewContrarian()}
}

// Generate computes the indicator snapshot at the newest bar, evaluates the
// buy and sell rules independently, and resolves conflicts. Both series are
// ordered oldest first; a short volume series is padded with zeros, a long
// one truncated. The result is deterministic for identical inputs.
func (g *Generator) Generate(closes, volumes []float64) (*Signal, error) {
	if len(closes) < MinBars {
		return &Signal{
			Type:       SignalHold,
			Confidence: 0,
			Reason:     fmt.Sprintf("insufficient data (%d bars, need %d)", len(closes), MinBars),
		}, nil
	}

	vols := make([]float64, len(closes))
	copy(vols, volumes)

	snap, err := BuildSnapshot(closes, vols)
	if err != nil {
		return nil, err
	}

	isBuy, buyConf, buyReason := g.rules.EvaluateBuy(snap)
	isSell, sellConf, sellReason := g.rules.EvaluateSell(snap)

	sig := &Signal{Indicators: snap}
	switch {
	case isBuy && isSell:
		switch {
		case buyConf > sellConf:
			sig.Type = SignalBuy
			sig.Confidence = buyConf * conflictPenalty
			sig.Reason = buyReason + " (conflicting opposite signal)"
		case sellConf > buyConf:
			sig.Type = SignalSell
			sig.Confidence = sellConf * conflictPenalty
			sig.Reason = sellReason + " (conflicting opposite signal)"
		default:
			sig.Type = SignalHold
			sig.Confidence = 0.5
			sig.Reason = "conflicting signals, equal strength"
		}
	case isBuy:
		sig.Type = SignalBuy
		sig.Confidence = buyConf
		sig.Reason = buyReason
	case isSell:
		sig.Type = SignalSell
		sig.Confidence = sellConf
		sig.Reason = sellReason
	default:
		sig.Type = SignalHold
		sig.Confidence = 0.5
		sig.Reason = "neutral"
	}
	return sig, nil
}
