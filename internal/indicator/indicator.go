// Package indicator implements the technical indicator math used by the
// signal generator. Every operation takes an ordered series (oldest first)
// and returns a series of equal length, element-aligned with the input.
// Positions whose window is incomplete hold NaN; callers test definedness
// with IsDefined rather than comparing against NaN directly.
package indicator

import (
	"errors"
	"math"
)

// ErrInvalidPeriod is returned when an operation receives a non-positive period.
var ErrInvalidPeriod = errors.New("indicator: period must be positive")

// Undefined returns the distinguished undefined indicator value.
func Undefined() float64 {
	return math.NaN()
}

// IsDefined reports whether an indicator value is defined.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// undefinedSeries returns a series of the given length with every element undefined.
func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average over the given period.
// Elements before position period-1 are undefined.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	out := undefinedSeries(len(values))
	if len(values) < period {
		return out, nil
	}

	// Rolling window sum keeps this O(n).
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// EMA calculates the Exponential Moving Average over the given period.
// The first defined element, at position period-1, is seeded with the SMA
// of the first period values; later elements use alpha = 2/(period+1).
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	out := undefinedSeries(len(values))
	if len(values) < period {
		return out, nil
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = values[i]*alpha + ema*(1-alpha)
		out[i] = ema
	}
	return out, nil
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// RSI calculates the Relative Strength Index with Wilder's smoothing.
// The first defined element is at position period; when both average gain
// and average loss are zero the element stays undefined, and when only the
// average loss is zero the element is 100.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	out := undefinedSeries(len(values))
	if len(values) < period+1 {
		return out, nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100.0
		}
		return math.NaN()
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// Default MACD parameters.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// MACDResult holds the three MACD series, each aligned with the input.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates the MACD line (fast EMA minus slow EMA), its signal line
// (EMA of the MACD line seeded with an SMA of the first signalPeriod defined
// values), and the histogram.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) (*MACDResult, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}

	fast, err := EMA(values, fastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := EMA(values, slowPeriod)
	if err != nil {
		return nil, err
	}

	n := len(values)
	res := &MACDResult{
		Line:      undefinedSeries(n),
		Signal:    undefinedSeries(n),
		Histogram: undefinedSeries(n),
	}

	for i := 0; i < n; i++ {
		if IsDefined(fast[i]) && IsDefined(slow[i]) {
			res.Line[i] = fast[i] - slow[i]
		}
	}

	// The signal line starts signalPeriod defined MACD values after the MACD
	// line itself becomes defined.
	firstLine := slowPeriod - 1
	firstSignal := firstLine + signalPeriod - 1
	if firstLine < 0 || firstSignal >= n || firstLine >= n {
		return res, nil
	}
	if !IsDefined(res.Line[firstLine]) {
		return res, nil
	}

	sum := 0.0
	for i := firstLine; i <= firstSignal; i++ {
		sum += res.Line[i]
	}
	signal := sum / float64(signalPeriod)
	res.Signal[firstSignal] = signal

	alpha := 2.0 / float64(signalPeriod+1)
	for i := firstSignal + 1; i < n; i++ {
		signal = res.Line[i]*alpha + signal*(1-alpha)
		res.Signal[i] = signal
	}

	for i := 0; i < n; i++ {
		if IsDefined(res.Line[i]) && IsDefined(res.Signal[i]) {
			res.Histogram[i] = res.Line[i] - res.Signal[i]
		}
	}
	return res, nil
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// Default Bollinger parameters.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerWidth  = 2.0
)

// BollingerResult holds the three band series, each aligned with the input.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger calculates Bollinger Bands: the middle band is the SMA over the
// period, the upper and lower bands sit width population standard deviations
// away from it.
func Bollinger(values []float64, period int, width float64) (*BollingerResult, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}

	middle, err := SMA(values, period)
	if err != nil {
		return nil, err
	}

	n := len(values)
	res := &BollingerResult{
		Upper:  undefinedSeries(n),
		Middle: middle,
		Lower:  undefinedSeries(n),
	}

	for i := period - 1; i < n; i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := values[j] - middle[i]
			variance += diff * diff
		}
		sigma := math.Sqrt(variance / float64(period))
		res.Upper[i] = middle[i] + width*sigma
		res.Lower[i] = middle[i] - width*sigma
	}
	return res, nil
}

// ============================================================================
// VOLUME ANALYSIS
// ============================================================================

// Default volume spike parameters.
const (
	DefaultVolumeSpikeThreshold = 2.0
	DefaultVolumeSpikeLookback  = 20
)

// VolumeSpikes flags the positions where volume reaches threshold times the
// mean of the preceding volumes, looking back at most lookback-1 bars.
// Position 0 has no history and is never a spike.
func VolumeSpikes(volumes []float64, threshold float64, lookback int) ([]bool, error) {
	if lookback <= 0 {
		return nil, ErrInvalidPeriod
	}

	out := make([]bool, len(volumes))
	for i := 1; i < len(volumes); i++ {
		start := i - lookback + 1
		if start < 0 {
			start = 0
		}
		sum := 0.0
		for j := start; j < i; j++ {
			sum += volumes[j]
		}
		mean := sum / float64(i-start)
		out[i] = volumes[i] >= threshold*mean
	}
	return out, nil
}

// ============================================================================
// MOVING AVERAGE CROSSES
// ============================================================================

// Default cross pair.
const (
	DefaultCrossShort = 5
	DefaultCrossLong  = 20
)

// GoldenCrosses flags the bars on which the short SMA crosses above the long
// SMA. A cross is momentary: the flag is true only on the bar it occurs, and
// only when both SMAs are defined on that bar and the one before it.
func GoldenCrosses(values []float64, shortPeriod, longPeriod int) ([]bool, error) {
	return crosses(values, shortPeriod, longPeriod, true)
}

// DeathCrosses flags the bars on which the short SMA crosses below the long SMA.
func DeathCrosses(values []float64, shortPeriod, longPeriod int) ([]bool, error) {
	return crosses(values, shortPeriod, longPeriod, false)
}

func crosses(values []float64, shortPeriod, longPeriod int, golden bool) ([]bool, error) {
	short, err := SMA(values, shortPeriod)
	if err != nil {
		return nil, err
	}
	long, err := SMA(values, longPeriod)
	if err != nil {
		return nil, err
	}

	out := make([]bool, len(values))
	for i := 1; i < len(values); i++ {
		if !IsDefined(short[i]) || !IsDefined(long[i]) ||
			!IsDefined(short[i-1]) || !IsDefined(long[i-1]) {
			continue
		}
		if golden {
			out[i] = short[i] > long[i] && short[i-1] <= long[i-1]
		} else {
			out[i] = short[i] < long[i] && short[i-1] >= long[i-1]
		}
	}
	return out, nil
}

// LatestGoldenCross reports whether a golden cross occurred on the most
// recent bar.
func LatestGoldenCross(values []float64, shortPeriod, longPeriod int) (bool, error) {
	flags, err := GoldenCrosses(values, shortPeriod, longPeriod)
	if err != nil {
		return false, err
	}
	if len(flags) == 0 {
		return false, nil
	}
	return flags[len(flags)-1], nil
}

// LatestDeathCross reports whether a death cross occurred on the most
// recent bar.
func LatestDeathCross(values []float64, shortPeriod, longPeriod int) (bool, error) {
	flags, err := DeathCrosses(values, shortPeriod, longPeriod)
	if err != nil {
		return false, err
	}
	if len(flags) == 0 {
		return false, nil
	}
	return flags[len(flags)-1], nil
}
