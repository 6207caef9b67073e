package indicator

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance
}

func risingSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestSMAAlignment(t *testing.T) {
	tests := []struct {
		name   string
		length int
		period int
	}{
		{"window shorter than series", 50, 5},
		{"window equals series", 10, 10},
		{"window longer than series", 5, 10},
		{"period one", 8, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := risingSeries(tt.length)
			out, err := SMA(values, tt.period)
			if err != nil {
				t.Fatalf("SMA returned error: %v", err)
			}
			if len(out) != tt.length {
				t.Fatalf("output length = %d, want %d", len(out), tt.length)
			}
			for i := 0; i < tt.period-1 && i < tt.length; i++ {
				if IsDefined(out[i]) {
					t.Errorf("position %d should be undefined", i)
				}
			}
			for i := tt.period - 1; i < tt.length; i++ {
				sum := 0.0
				for j := i - tt.period + 1; j <= i; j++ {
					sum += values[j]
				}
				want := sum / float64(tt.period)
				if !almostEqual(out[i], want) {
					t.Errorf("SMA[%d] = %v, want %v", i, out[i], want)
				}
			}
		})
	}
}

func TestSMAEmptyInput(t *testing.T) {
	out, err := SMA(nil, 5)
	if err != nil {
		t.Fatalf("SMA returned error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output length = %d, want 0", len(out))
	}
}

func TestInvalidPeriods(t *testing.T) {
	values := risingSeries(30)

	if _, err := SMA(values, 0); err != ErrInvalidPeriod {
		t.Errorf("SMA(period=0) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := EMA(values, -1); err != ErrInvalidPeriod {
		t.Errorf("EMA(period=-1) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := RSI(values, 0); err != ErrInvalidPeriod {
		t.Errorf("RSI(period=0) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := MACD(values, 12, 0, 9); err != ErrInvalidPeriod {
		t.Errorf("MACD(slow=0) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := Bollinger(values, 0, 2.0); err != ErrInvalidPeriod {
		t.Errorf("Bollinger(period=0) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := VolumeSpikes(values, 2.0, 0); err != ErrInvalidPeriod {
		t.Errorf("VolumeSpikes(lookback=0) error = %v, want ErrInvalidPeriod", err)
	}
	if _, err := GoldenCrosses(values, -5, 20); err != ErrInvalidPeriod {
		t.Errorf("GoldenCrosses(short=-5) error = %v, want ErrInvalidPeriod", err)
	}
}

func TestEMASeedAndRecursion(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15}
	period := 3

	out, err := EMA(values, period)
	if err != nil {
		t.Fatalf("EMA returned error: %v", err)
	}

	// Seed at position period-1 is the SMA of the first period values.
	seed := (10.0 + 11.0 + 12.0) / 3.0
	if !almostEqual(out[period-1], seed) {
		t.Errorf("EMA[%d] = %v, want seed %v", period-1, out[period-1], seed)
	}

	alpha := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(values); i++ {
		want := values[i]*alpha + prev*(1-alpha)
		if !almostEqual(out[i], want) {
			t.Errorf("EMA[%d] = %v, want %v", i, out[i], want)
		}
		prev = want
	}
}

func TestRSIBounds(t *testing.T) {
	// Mixed up/down series keeps RSI strictly inside (0, 100); monotone
	// series pin it to the boundary.
	tests := []struct {
		name   string
		values []float64
	}{
		{"sawtooth", []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18, 17, 19, 18, 20}},
		{"steady rise", risingSeries(30)},
		{"steady fall", func() []float64 {
			v := make([]float64, 30)
			for i := range v {
				v[i] = float64(100 - i)
			}
			return v
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RSI(tt.values, DefaultRSIPeriod)
			if err != nil {
				t.Fatalf("RSI returned error: %v", err)
			}
			if len(out) != len(tt.values) {
				t.Fatalf("output length = %d, want %d", len(out), len(tt.values))
			}
			for i := 0; i < DefaultRSIPeriod && i < len(out); i++ {
				if IsDefined(out[i]) {
					t.Errorf("position %d should be undefined", i)
				}
			}
			for i := DefaultRSIPeriod; i < len(out); i++ {
				if !IsDefined(out[i]) {
					continue
				}
				if out[i] < 0 || out[i] > 100 {
					t.Errorf("RSI[%d] = %v out of [0, 100]", i, out[i])
				}
			}
		})
	}
}

func TestRSIAllGains(t *testing.T) {
	out, err := RSI(risingSeries(20), DefaultRSIPeriod)
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	last := out[len(out)-1]
	if !almostEqual(last, 100) {
		t.Errorf("RSI of a strictly rising series = %v, want 100", last)
	}
}

func TestRSIFlatSeriesUndefined(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	out, err := RSI(flat, DefaultRSIPeriod)
	if err != nil {
		t.Fatalf("RSI returned error: %v", err)
	}
	for i, v := range out {
		if IsDefined(v) {
			t.Errorf("RSI[%d] = %v, want undefined for a flat series", i, v)
		}
	}
}

func TestMACDAlignment(t *testing.T) {
	values := risingSeries(60)
	res, err := MACD(values, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if err != nil {
		t.Fatalf("MACD returned error: %v", err)
	}

	if len(res.Line) != len(values) || len(res.Signal) != len(values) || len(res.Histogram) != len(values) {
		t.Fatal("MACD series lengths do not match input")
	}

	firstLine := DefaultMACDSlow - 1
	firstSignal := firstLine + DefaultMACDSignal - 1

	for i := 0; i < firstLine; i++ {
		if IsDefined(res.Line[i]) {
			t.Errorf("Line[%d] should be undefined", i)
		}
	}
	for i := firstLine; i < len(values); i++ {
		if !IsDefined(res.Line[i]) {
			t.Errorf("Line[%d] should be defined", i)
		}
	}
	for i := 0; i < firstSignal; i++ {
		if IsDefined(res.Signal[i]) {
			t.Errorf("Signal[%d] should be undefined", i)
		}
	}
	for i := firstSignal; i < len(values); i++ {
		if !IsDefined(res.Signal[i]) {
			t.Errorf("Signal[%d] should be defined", i)
		}
		want := res.Line[i] - res.Signal[i]
		if !almostEqual(res.Histogram[i], want) {
			t.Errorf("Histogram[%d] = %v, want %v", i, res.Histogram[i], want)
		}
	}
}

func TestMACDSignalSeed(t *testing.T) {
	values := risingSeries(60)
	res, err := MACD(values, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if err != nil {
		t.Fatalf("MACD returned error: %v", err)
	}

	firstLine := DefaultMACDSlow - 1
	firstSignal := firstLine + DefaultMACDSignal - 1
	sum := 0.0
	for i := firstLine; i <= firstSignal; i++ {
		sum += res.Line[i]
	}
	want := sum / float64(DefaultMACDSignal)
	if !almostEqual(res.Signal[firstSignal], want) {
		t.Errorf("Signal seed = %v, want %v", res.Signal[firstSignal], want)
	}
}

func TestBollingerOrder(t *testing.T) {
	values := []float64{
		100, 102, 98, 103, 97, 105, 95, 104, 96, 101,
		99, 103, 98, 102, 100, 104, 97, 101, 99, 105,
		96, 103, 100, 98, 102,
	}
	res, err := Bollinger(values, DefaultBollingerPeriod, DefaultBollingerWidth)
	if err != nil {
		t.Fatalf("Bollinger returned error: %v", err)
	}

	for i := range values {
		defined := IsDefined(res.Middle[i])
		if defined != (i >= DefaultBollingerPeriod-1) {
			t.Errorf("Middle[%d] definedness = %v", i, defined)
		}
		if !defined {
			continue
		}
		if res.Lower[i] > res.Middle[i] || res.Middle[i] > res.Upper[i] {
			t.Errorf("band order violated at %d: %v %v %v", i, res.Lower[i], res.Middle[i], res.Upper[i])
		}
	}
}

func TestBollingerPopulationStdDev(t *testing.T) {
	// Five equal values then a jump; check the band width at the last
	// position against a hand-computed population sigma.
	values := []float64{10, 10, 10, 10, 20}
	res, err := Bollinger(values, 5, 2.0)
	if err != nil {
		t.Fatalf("Bollinger returned error: %v", err)
	}

	mean := 12.0
	variance := (4*(10.0-mean)*(10.0-mean) + (20.0-mean)*(20.0-mean)) / 5.0
	sigma := math.Sqrt(variance)

	last := len(values) - 1
	if !almostEqual(res.Upper[last], mean+2*sigma) {
		t.Errorf("Upper = %v, want %v", res.Upper[last], mean+2*sigma)
	}
	if !almostEqual(res.Lower[last], mean-2*sigma) {
		t.Errorf("Lower = %v, want %v", res.Lower[last], mean-2*sigma)
	}
}

func TestVolumeSpikes(t *testing.T) {
	volumes := make([]float64, 50)
	for i := range volumes {
		volumes[i] = 1_000_000
	}
	volumes[49] = 3_000_000

	out, err := VolumeSpikes(volumes, DefaultVolumeSpikeThreshold, DefaultVolumeSpikeLookback)
	if err != nil {
		t.Fatalf("VolumeSpikes returned error: %v", err)
	}
	if out[0] {
		t.Error("position 0 can never be a spike")
	}
	for i := 1; i < 49; i++ {
		if out[i] {
			t.Errorf("position %d flagged on flat volume", i)
		}
	}
	if !out[49] {
		t.Error("tripled volume on the last bar should be a spike")
	}
}

func TestVolumeSpikeShortHistory(t *testing.T) {
	// With fewer than lookback bars the mean uses whatever history exists.
	volumes := []float64{100, 100, 500}
	out, err := VolumeSpikes(volumes, 2.0, 20)
	if err != nil {
		t.Fatalf("VolumeSpikes returned error: %v", err)
	}
	if !out[2] {
		t.Error("5x average over the two prior bars should be a spike")
	}
}

func TestCrossDetection(t *testing.T) {
	// Fall long enough to pull the short SMA below the long one, then rally.
	values := []float64{
		110, 109, 108, 107, 106, 105, 104, 103, 102, 101,
		100, 99, 98, 97, 96, 95, 94, 93, 92, 91,
		90, 89, 88, 100, 112, 124, 136, 148,
	}

	golden, err := GoldenCrosses(values, DefaultCrossShort, DefaultCrossLong)
	if err != nil {
		t.Fatalf("GoldenCrosses returned error: %v", err)
	}
	death, err := DeathCrosses(values, DefaultCrossShort, DefaultCrossLong)
	if err != nil {
		t.Fatalf("DeathCrosses returned error: %v", err)
	}

	goldenCount := 0
	for i, g := range golden {
		if g {
			goldenCount++
			if death[i] {
				t.Errorf("golden and death cross flagged on the same bar %d", i)
			}
		}
	}
	if goldenCount != 1 {
		t.Errorf("golden cross count = %d, want exactly 1", goldenCount)
	}

	for _, d := range death {
		if d {
			t.Error("no death cross expected in a fall-then-rally series")
		}
	}
}

func TestLatestCrossHelpers(t *testing.T) {
	short := risingSeries(10)
	got, err := LatestGoldenCross(short, 5, 20)
	if err != nil {
		t.Fatalf("LatestGoldenCross returned error: %v", err)
	}
	if got {
		t.Error("cross reported while the long SMA is still undefined")
	}

	got, err = LatestGoldenCross(nil, 5, 20)
	if err != nil {
		t.Fatalf("LatestGoldenCross on empty input returned error: %v", err)
	}
	if got {
		t.Error("cross reported for empty input")
	}
}
