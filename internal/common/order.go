package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is an immutable order event as delivered by the dispatcher. Ids are
// globally unique and monotonic in arrival, which is what gives the book its
// time priority.
type Order struct {
	ID          uint64          // Globally unique order id
	UserID      uint64          // Owning account
	Side        Side            // Order side
	Type        OrderType       // Limit or market
	TimeInForce TimeInForce     // Opaque to the engine
	Size        decimal.Decimal // Base-asset quantity
	Funds       decimal.Decimal // Quote-asset budget (market buys)
	Price       decimal.Decimal // Limit price; meaningless for market orders
	Time        time.Time       // Time of arrival at the gateway
}
