package strategy

import (
	"math"
	"testing"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/indicator"
)

func declineSeries() ([]float64, []float64) {
	closes := make([]float64, 50)
	volumes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100 - 2*float64(i)
		volumes[i] = 1_000_000
	}
	volumes[49] = 3_000_000
	return closes, volumes
}

func rallySeries() ([]float64, []float64) {
	closes := make([]float64, 50)
	volumes := make([]float64, 50)
	for i := range closes {
		closes[i] = 50 + 2*float64(i)
		volumes[i] = 1_000_000
	}
	return closes, volumes
}

func flatSeries() ([]float64, []float64) {
	closes := make([]float64, 60)
	volumes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100.0
		volumes[i] = 1_000_000
	}
	return closes, volumes
}

func TestGenerateOversoldBuy(t *testing.T) {
	closes, volumes := declineSeries()
	sig, err := NewGenerator().Generate(closes, volumes)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if sig.Type != SignalBuy {
		t.Fatalf("signal = %s (%s), want BUY", sig.Type, sig.Reason)
	}
	if sig.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= 0.5 on a triggered rule", sig.Confidence)
	}
	if sig.Indicators == nil || !sig.Indicators.VolumeSpike {
		t.Error("snapshot should carry the volume spike that confirmed the entry")
	}
}

func TestGenerateOverboughtSell(t *testing.T) {
	closes, volumes := rallySeries()
	sig, err := NewGenerator().Generate(closes, volumes)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if sig.Type != SignalSell {
		t.Fatalf("signal = %s (%s), want SELL", sig.Type, sig.Reason)
	}
	if sig.Confidence < 0.5 {
		t.Errorf("confidence = %v, want >= 0.5 on a triggered rule", sig.Confidence)
	}
}

func TestGenerateFlatMarketHolds(t *testing.T) {
	closes, volumes := flatSeries()
	sig, err := NewGenerator().Generate(closes, volumes)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	if sig.Type != SignalHold {
		t.Errorf("signal = %s, want HOLD", sig.Type)
	}
	if sig.Confidence > 0.5 {
		t.Errorf("confidence = %v, want <= 0.5", sig.Confidence)
	}
}

func TestGenerateInsufficientData(t *testing.T) {
	closes := make([]float64, MinBars-1)
	for i := range closes {
		closes[i] = 100
	}

	sig, err := NewGenerator().Generate(closes, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if sig.Type != SignalHold || sig.Confidence != 0 {
		t.Errorf("got %s conf %v, want HOLD conf 0", sig.Type, sig.Confidence)
	}
}

func TestGenerateShortVolumeSeriesPadded(t *testing.T) {
	closes, _ := declineSeries()

	// No volume history at all: the spike confirmation is gone, and a
	// linear decline stays above the widened lower band, so no trigger.
	sig, err := NewGenerator().Generate(closes, nil)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if sig.Type == SignalSell {
		t.Errorf("signal = %s, SELL impossible on an oversold series", sig.Type)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	closes, volumes := declineSeries()
	g := NewGenerator()

	first, err := g.Generate(closes, volumes)
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := g.Generate(closes, volumes)
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}
		if again.Type != first.Type || again.Confidence != first.Confidence || again.Reason != first.Reason {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestEvaluateBuyRequiresRSI(t *testing.T) {
	snap := &Snapshot{RSI: indicator.Undefined(), VolumeSpike: true, BelowLowerBand: true}
	triggered, conf, reason := NewContrarian().EvaluateBuy(snap)
	if triggered || conf != 0 {
		t.Errorf("triggered=%v conf=%v, want no trigger and zero confidence", triggered, conf)
	}
	if reason != "RSI is not available" {
		t.Errorf("reason = %q", reason)
	}
}

func TestEvaluateBuyConfidenceFloor(t *testing.T) {
	// RSI marginally oversold plus a volume spike: the weighted sum is well
	// under 0.5 but the trigger floors it.
	snap := &Snapshot{RSI: 29.9, VolumeSpike: true, CurrentPrice: 100}
	triggered, conf, _ := NewContrarian().EvaluateBuy(snap)
	if !triggered {
		t.Fatal("marginal oversold with spike should trigger")
	}
	if conf != 0.5 {
		t.Errorf("confidence = %v, want floored 0.5", conf)
	}
}

func TestEvaluateBuyWeights(t *testing.T) {
	// Deep oversold with every confirmation: weights saturate near 1.0.
	snap := &Snapshot{
		RSI:            5,
		VolumeSpike:    true,
		BelowLowerBand: true,
		GoldenCross:    true,
		CurrentPrice:   100,
	}
	triggered, conf, _ := NewContrarian().EvaluateBuy(snap)
	if !triggered {
		t.Fatal("deep oversold should trigger")
	}
	want := 0.35 + 0.25 + 0.25 + 0.15
	if math.Abs(conf-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", conf, want)
	}
}

func TestEvaluateSellRequiresOverbought(t *testing.T) {
	snap := &Snapshot{RSI: 50, VolumeSpike: false, AboveUpperBand: true}
	triggered, _, _ := NewContrarian().EvaluateSell(snap)
	if triggered {
		t.Error("sell must not trigger without overbought RSI")
	}
}

func TestConflictResolution(t *testing.T) {
	g := NewGenerator()

	// A snapshot cannot be both oversold and overbought, so exercise the
	// resolver directly through Generate on synthetic evaluations is not
	// possible; check the tie and penalty arithmetic via the rule outputs.
	buySnap := &Snapshot{RSI: 10, VolumeSpike: true, BelowLowerBand: true, CurrentPrice: 10}
	_, buyConf, _ := g.rules.EvaluateBuy(buySnap)
	if buyConf <= 0.5 {
		t.Fatalf("strong buy confidence = %v, want > 0.5", buyConf)
	}
	penalized := buyConf * conflictPenalty
	if penalized >= buyConf {
		t.Error("conflict penalty must reduce confidence")
	}
}
