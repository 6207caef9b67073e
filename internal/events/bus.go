// Package events is the in-process pub/sub bus connecting the trading engine
// to the API layer's live feeds. Publishing never blocks the trading loop;
// subscribers run on their own goroutines.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventAlertCreated    EventType = "ALERT_CREATED"
	EventAlertResolved   EventType = "ALERT_RESOLVED"
	EventTickCompleted   EventType = "TICK_COMPLETED"
	EventRiskTriggered   EventType = "RISK_TRIGGERED"
	EventError           EventType = "ERROR"
)

// Event is one system event.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    int64          `json:"user_id,omitempty"`
	Data      map[string]any `json:"data"`
}

// Subscriber handles events.
type Subscriber func(Event)

// Bus fan-outs events to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers an event to subscribers. Each subscriber runs on its own
// goroutine so a slow consumer cannot stall the trading loop.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a generated trading signal.
func (b *Bus) PublishSignal(userID int64, stockCode, signalType, reason string, confidence, price float64) {
	b.Publish(Event{
		Type:   EventSignalGenerated,
		UserID: userID,
		Data: map[string]any{
			"stock_code":  stockCode,
			"signal_type": signalType,
			"reason":      reason,
			"confidence":  confidence,
			"price":       price,
		},
	})
}

// PublishOrderPlaced publishes an accepted broker order.
func (b *Bus) PublishOrderPlaced(userID int64, orderID, stockCode, side string, quantity int, price float64) {
	b.Publish(Event{
		Type:   EventOrderPlaced,
		UserID: userID,
		Data: map[string]any{
			"order_id":   orderID,
			"stock_code": stockCode,
			"side":       side,
			"quantity":   quantity,
			"price":      price,
		},
	})
}

// PublishAlertCreated publishes a newly queued pending alert.
func (b *Bus) PublishAlertCreated(userID int64, alertID, stockCode, signalType string) {
	b.Publish(Event{
		Type:   EventAlertCreated,
		UserID: userID,
		Data: map[string]any{
			"alert_id":    alertID,
			"stock_code":  stockCode,
			"signal_type": signalType,
		},
	})
}

// PublishAlertResolved publishes an alert leaving the store. Resolution is
// "approved", "rejected", or "expired".
func (b *Bus) PublishAlertResolved(userID int64, alertID, resolution string) {
	b.Publish(Event{
		Type:   EventAlertResolved,
		UserID: userID,
		Data: map[string]any{
			"alert_id":   alertID,
			"resolution": resolution,
		},
	})
}

// PublishRiskTriggered publishes a fired risk rule on an open position.
func (b *Bus) PublishRiskTriggered(userID int64, stockCode, action, reason string, profitPct float64) {
	b.Publish(Event{
		Type:   EventRiskTriggered,
		UserID: userID,
		Data: map[string]any{
			"stock_code": stockCode,
			"action":     action,
			"reason":     reason,
			"profit_pct": profitPct,
		},
	})
}

// PublishTickCompleted publishes the result summary of one trading tick.
func (b *Bus) PublishTickCompleted(userID int64, processed, signals, orders, alerts, errors int) {
	b.Publish(Event{
		Type:   EventTickCompleted,
		UserID: userID,
		Data: map[string]any{
			"processed_stocks":  processed,
			"signals_generated": signals,
			"orders_executed":   orders,
			"alerts_sent":       alerts,
			"errors":            errors,
		},
	})
}

// PublishError publishes a non-fatal error.
func (b *Bus) PublishError(userID int64, source, message string, err error) {
	data := map[string]any{"source": source, "message": message}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, UserID: userID, Data: data})
}
