package strategy

import (
	"github.com/kyu1204/kingsick-mk4-sub000/internal/indicator"
)

// Snapshot is the indicator state at a single point in time, fed to the
// buy/sell rules. Real-valued fields use the indicator package's undefined
// convention (NaN); booleans are false whenever their inputs are undefined.
type Snapshot struct {
	RSI             float64
	MACDLine        float64
	MACDSignal      float64
	MACDHistogram   float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	BelowLowerBand  bool
	AboveUpperBand  bool
	VolumeSpike     bool
	GoldenCross     bool
	DeathCross      bool
	CurrentPrice    float64
}

// BuildSnapshot computes the indicator snapshot at the last bar of the given
// close/volume series. Both series must be the same length and ordered
// oldest first.
func BuildSnapshot(closes, volumes []float64) (*Snapshot, error) {
	last := len(closes) - 1

	rsi, err := indicator.RSI(closes, indicator.DefaultRSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := indicator.MACD(closes, indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal)
	if err != nil {
		return nil, err
	}
	bands, err := indicator.Bollinger(closes, indicator.DefaultBollingerPeriod, indicator.DefaultBollingerWidth)
	if err != nil {
		return nil, err
	}
	spikes, err := indicator.VolumeSpikes(volumes, indicator.DefaultVolumeSpikeThreshold, indicator.DefaultVolumeSpikeLookback)
	if err != nil {
		return nil, err
	}
	golden, err := indicator.LatestGoldenCross(closes, indicator.DefaultCrossShort, indicator.DefaultCrossLong)
	if err != nil {
		return nil, err
	}
	death, err := indicator.LatestDeathCross(closes, indicator.DefaultCrossShort, indicator.DefaultCrossLong)
	if err != nil {
		return nil, err
	}

	price := closes[last]
	snap := &Snapshot{
		RSI:             rsi[last],
		MACDLine:        macd.Line[last],
		MACDSignal:      macd.Signal[last],
		MACDHistogram:   macd.Histogram[last],
		BollingerUpper:  bands.Upper[last],
		BollingerMiddle: bands.Middle[last],
		BollingerLower:  bands.Lower[last],
		VolumeSpike:     spikes[last],
		GoldenCross:     golden,
		DeathCross:      death,
		CurrentPrice:    price,
	}
	if indicator.IsDefined(bands.Lower[last]) {
		snap.BelowLowerBand = price < bands.Lower[last]
	}
	if indicator.IsDefined(bands.Upper[last]) {
		snap.AboveUpperBand = price > bands.Upper[last]
	}
	return snap, nil
}
