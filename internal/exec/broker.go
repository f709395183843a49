package exec

import "context"

// OrderIntent is the fully validated order handed to a broker adapter.
type OrderIntent struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	Leverage       int     `json:"leverage"`
	OrderType      string  `json:"order_type"` // market, limit
	IdempotencyKey string  `json:"idempotency_key"`
}

// Broker is the adapter contract for order transport. Implementations must
// report terminal vs retryable failures, ideally via the Kinder contract,
// otherwise through the legacy message taxonomy.
type Broker interface {
	Name() string
	Submit(ctx context.Context, intent OrderIntent) error
	Cancel(ctx context.Context, orderID string) error
	Modify(ctx context.Context, intent OrderIntent) error
}
