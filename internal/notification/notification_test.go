package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/alert"
)

type countingProvider struct {
	mu      sync.Mutex
	calls   int
	failErr error
	enabled bool
}

func (p *countingProvider) SendAlert(ctx context.Context, channel string, a *alert.Info) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.failErr
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) IsEnabled() bool { return p.enabled }

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func sampleAlert(id string) *alert.Info {
	return &alert.Info{
		AlertID: id, UserID: 1, StockCode: "005930", StockName: "Samsung Electronics",
		SignalType: "BUY", Confidence: 0.8, CurrentPrice: 70_000,
		SuggestedQuantity: 10, Reason: "RSI oversold (25.0)", CreatedAt: time.Now(),
	}
}

func TestSendAlertIdempotentPerID(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{enabled: true}
	m := NewManager(nil)
	m.AddProvider(p)

	a := sampleAlert("a1")
	for i := 0; i < 3; i++ {
		if err := m.SendAlert(ctx, "chan", a); err != nil {
			t.Fatalf("SendAlert: %v", err)
		}
	}
	if got := p.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1 (idempotent per alert ID)", got)
	}

	// A different alert ID goes through.
	m.SendAlert(ctx, "chan", sampleAlert("a2"))
	if got := p.count(); got != 2 {
		t.Errorf("deliveries = %d, want 2", got)
	}
}

func TestSendAlertSkipsDisabledProviders(t *testing.T) {
	ctx := context.Background()
	enabled := &countingProvider{enabled: true}
	disabled := &countingProvider{enabled: false}

	m := NewManager(nil)
	m.AddProvider(enabled)
	m.AddProvider(disabled)

	m.SendAlert(ctx, "chan", sampleAlert("a1"))
	if enabled.count() != 1 {
		t.Errorf("enabled provider deliveries = %d, want 1", enabled.count())
	}
	if disabled.count() != 0 {
		t.Errorf("disabled provider deliveries = %d, want 0", disabled.count())
	}
}

func TestSendAlertSurfacesProviderError(t *testing.T) {
	ctx := context.Background()
	failing := &countingProvider{enabled: true, failErr: errors.New("timeout")}
	m := NewManager(nil)
	m.AddProvider(failing)

	if err := m.SendAlert(ctx, "chan", sampleAlert("a1")); err == nil {
		t.Error("expected the provider error to surface")
	}
	// A retry of the same alert is still deduplicated: at-most-once per
	// provider even across failures.
	if err := m.SendAlert(ctx, "chan", sampleAlert("a1")); err != nil {
		t.Errorf("retry err = %v, want nil from dedup", err)
	}
	if got := failing.count(); got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
}

func TestDisabledProvidersWithoutConfig(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Enabled: true})
	if tg.IsEnabled() {
		t.Error("telegram with no token must be disabled")
	}
	dc := NewDiscord(DiscordConfig{Enabled: true})
	if dc.IsEnabled() {
		t.Error("discord with no webhook must be disabled")
	}
}
