package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is a deterministic in-memory broker for tests and dry runs.
// Quotes, daily bars, positions, and balance are set up front; orders are
// recorded and acknowledged as filled unless a failure is injected.
type MockClient struct {
	mu sync.Mutex

	Prices      map[string]StockPrice
	DailyPrices map[string][]DailyPrice
	Positions   []Position
	Account     Balance

	// Error injection. A non-nil value makes the corresponding call fail.
	PriceErr   error
	DailyErr   error
	OrderErr   error
	BalanceErr error

	// FailOrders makes PlaceOrder return an unsuccessful result without error.
	FailOrders bool

	Orders        []MockOrder
	authenticated bool
	orderSeq      int
}

// MockOrder records one PlaceOrder call.
type MockOrder struct {
	Code     string
	Side     Side
	Quantity int
	Price    *float64
}

// NewMockClient creates an empty mock broker.
func NewMockClient() *MockClient {
	return &MockClient{
		Prices:      make(map[string]StockPrice),
		DailyPrices: make(map[string][]DailyPrice),
	}
}

// SetQuote installs a current quote for a code.
func (mc *MockClient) SetQuote(code, name string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Prices[code] = StockPrice{Code: code, Name: name, CurrentPrice: price}
}

// SetDailyHistory installs daily bars (oldest first) built from close/volume
// pairs; open/high/low mirror the close.
func (mc *MockClient) SetDailyHistory(code string, closes []float64, volumes []int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]DailyPrice, len(closes))
	for i, c := range closes {
		var vol int64
		if i < len(volumes) {
			vol = volumes[i]
		}
		bars[i] = DailyPrice{
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: vol,
		}
	}
	mc.DailyPrices[code] = bars
}

// Authenticate implements Client.
func (mc *MockClient) Authenticate(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.authenticated = true
	return nil
}

// GetStockPrices implements Client. Unknown codes are simply absent from the
// result, matching the real API's behavior for invalid codes in a batch.
func (mc *MockClient) GetStockPrices(ctx context.Context, codes []string) ([]StockPrice, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.PriceErr != nil {
		return nil, mc.PriceErr
	}
	out := make([]StockPrice, 0, len(codes))
	for _, code := range codes {
		if p, ok := mc.Prices[code]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetDailyPrices implements Client.
func (mc *MockClient) GetDailyPrices(ctx context.Context, code string, count int) ([]DailyPrice, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.DailyErr != nil {
		return nil, mc.DailyErr
	}
	bars := mc.DailyPrices[code]
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]DailyPrice, len(bars))
	copy(out, bars)
	return out, nil
}

// PlaceOrder implements Client.
func (mc *MockClient) PlaceOrder(ctx context.Context, code string, side Side, quantity int, price *float64) (*OrderResult, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.OrderErr != nil {
		return nil, mc.OrderErr
	}
	if quantity <= 0 {
		return nil, NewProviderError("MOCK", "quantity must be positive")
	}

	mc.Orders = append(mc.Orders, MockOrder{Code: code, Side: side, Quantity: quantity, Price: price})
	if mc.FailOrders {
		return &OrderResult{Success: false, Message: "order rejected", Status: StatusFailed}, nil
	}
	mc.orderSeq++
	return &OrderResult{
		Success: true,
		OrderID: fmt.Sprintf("MOCK-%06d", mc.orderSeq),
		Message: "filled",
		Status:  StatusFilled,
	}, nil
}

// GetPositions implements Client.
func (mc *MockClient) GetPositions(ctx context.Context) ([]Position, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	out := make([]Position, len(mc.Positions))
	copy(out, mc.Positions)
	return out, nil
}

// GetBalance implements Client.
func (mc *MockClient) GetBalance(ctx context.Context) (*Balance, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.BalanceErr != nil {
		return nil, mc.BalanceErr
	}
	b := mc.Account
	return &b, nil
}

// OrderCount returns the number of orders placed so far.
func (mc *MockClient) OrderCount() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.Orders)
}

// LastOrder returns the most recent order, or nil.
func (mc *MockClient) LastOrder() *MockOrder {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.Orders) == 0 {
		return nil
	}
	o := mc.Orders[len(mc.Orders)-1]
	return &o
}

var _ Client = (*MockClient)(nil)
