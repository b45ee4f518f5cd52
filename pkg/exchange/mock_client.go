package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockClient is an in-memory ExchangeClient used for USE_MOCK_FEED=true runs and tests. Every
// submitted order fills immediately at the requested (or a synthetic) price.
type MockClient struct {
	mu       sync.Mutex
	balances map[string]Balance
	orders   map[string]Order
	NowPrice float64
}

// NewMockClient seeds a starting balance for currency.
func NewMockClient(currency string, available float64) *MockClient {
	return &MockClient{
		balances: map[string]Balance{currency: {Currency: currency, Available: available}},
		orders:   make(map[string]Order),
		NowPrice: 50_000_000,
	}
}

func (m *MockClient) GetMarkets(ctx context.Context) ([]Market, error) {
	return []Market{{Code: "KRW-BTC"}, {Code: "KRW-ETH"}}, nil
}

func (m *MockClient) GetBalance(ctx context.Context, currency string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[currency], nil
}

func (m *MockClient) SubmitOrder(ctx context.Context, intent OrderIntent) (SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price := intent.Price
	if price == 0 {
		price = m.NowPrice
	}
	volume := intent.Volume
	quote := intent.QuoteAmount
	if volume == 0 && quote > 0 {
		volume = quote / price
	}
	if quote == 0 {
		quote = volume * price
	}

	id := uuid.NewString()
	m.orders[id] = Order{
		ExchangeID: id, ClientID: intent.ClientID, Market: intent.Market, Side: intent.Side,
		Status: StatusExecuted, Price: price, Volume: volume, ExecutedVolume: volume, ExecutedQuote: quote,
	}
	return SubmitResult{ExchangeID: id, Status: StatusExecuted}, nil
}

func (m *MockClient) GetOrder(ctx context.Context, exchangeID string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[exchangeID]
	if !ok {
		return Order{}, fmt.Errorf("mock exchange: order %s not found", exchangeID)
	}
	return o, nil
}
