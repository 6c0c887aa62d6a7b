package matching

import (
	"github.com/shopspring/decimal"

	"sleipnir/internal/common"
)

// OrderIDWindowCap bounds the dedup lookback: an order id this far behind
// the highest id ever seen is rejected as already processed.
const OrderIDWindowCap = 10000

// BookOrder is the engine's working copy of an order. A taker's copy lives
// for one ApplyOrder call; a maker's copy rests in exactly one depth until
// fully consumed or cancelled, its Size decrementing as it trades. A market
// buy taker's Funds decrement instead of its Size.
type BookOrder struct {
	OrderID     uint64             `json:"order_id"`
	UserID      uint64             `json:"user_id"`
	Size        decimal.Decimal    `json:"size"`
	Funds       decimal.Decimal    `json:"funds"`
	Price       decimal.Decimal    `json:"price"`
	Side        common.Side        `json:"side"`
	Type        common.OrderType   `json:"type"`
	TimeInForce common.TimeInForce `json:"time_in_force"`
}

func newBookOrder(order *common.Order) *BookOrder {
	return &BookOrder{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Size:        order.Size,
		Funds:       order.Funds,
		Price:       order.Price,
		Side:        order.Side,
		Type:        order.Type,
		TimeInForce: order.TimeInForce,
	}
}

// OrderBook is the matching core for one product. It is not safe for
// concurrent use; the caller serializes all calls against a given book.
type OrderBook struct {
	product       common.Product
	asks          *depth
	bids          *depth
	tradeSeq      uint64
	logSeq        uint64
	orderIDWindow Window
}

func NewOrderBook(product common.Product) *OrderBook {
	return &OrderBook{
		product:       product,
		asks:          newAskDepth(),
		bids:          newBidDepth(),
		orderIDWindow: NewWindow(0, OrderIDWindowCap),
	}
}

func (ob *OrderBook) Product() common.Product {
	return ob.product
}

// ApplyOrder matches an incoming order against the opposite side of the
// book and returns the ordered batch of logs the transition produced. A
// duplicate or expired order id is a silent no-op returning an empty batch.
func (ob *OrderBook) ApplyOrder(order *common.Order) []Log {
	if err := ob.orderIDWindow.put(order.ID); err != nil {
		return nil
	}

	var logs []Log
	takerOrder := newBookOrder(order)

	makerDepth := ob.asks
	if takerOrder.Side == common.SideSell {
		makerDepth = ob.bids
	}

	for {
		makerOrder, ok := makerDepth.best()
		if !ok {
			break
		}
		if ob.takerDone(takerOrder, makerOrder) {
			break
		}

		// The trade executes at the maker's price. Market buys are sized
		// by how much base the remaining funds afford at that price,
		// truncated toward zero so the budget is never overspent.
		var size decimal.Decimal
		if takerOrder.Type == common.OrderTypeMarket && takerOrder.Side == common.SideBuy {
			takerSize := takerOrder.Funds.Div(makerOrder.Price).Truncate(ob.product.BaseScale)
			size = decimal.Min(takerSize, makerOrder.Size)
			if !size.IsPositive() {
				// The remaining funds no longer afford the minimum base
				// increment at the best price; they cannot afford it at
				// any worse price either.
				break
			}
			takerOrder.Funds = takerOrder.Funds.Sub(size.Mul(makerOrder.Price))
		} else {
			size = decimal.Min(takerOrder.Size, makerOrder.Size)
			takerOrder.Size = takerOrder.Size.Sub(size)
		}

		if err := makerDepth.decrSize(makerOrder.OrderID, size); err != nil {
			panic(err)
		}

		logs = append(logs, newMatchLog(ob.nextLogSeq(), ob.product.ID,
			ob.nextTradeSeq(), takerOrder, makerOrder, makerOrder.Price, size))

		// makerOrder is the same object the depth just decremented, so its
		// size here is the post-trade remainder.
		if makerOrder.Size.IsZero() {
			logs = append(logs, newDoneLog(ob.nextLogSeq(), ob.product.ID,
				makerOrder, decimal.Zero, common.DoneReasonFilled))
		}
	}

	if takerOrder.Type == common.OrderTypeLimit && takerOrder.Size.IsPositive() {
		// The residual rests on the taker's own side.
		if takerOrder.Side == common.SideBuy {
			ob.bids.add(takerOrder)
		} else {
			ob.asks.add(takerOrder)
		}
		logs = append(logs, newOpenLog(ob.nextLogSeq(), ob.product.ID, takerOrder))
		return logs
	}

	remainingSize := takerOrder.Size
	reason := common.DoneReasonFilled
	if takerOrder.Type == common.OrderTypeMarket {
		// Market orders report a zeroed price and remainder; a cancelled
		// reason alone tells downstream the order closed with residual.
		takerOrder.Price = decimal.Zero
		remainingSize = decimal.Zero
		if takerOrder.Side == common.SideSell && takerOrder.Size.IsPositive() ||
			takerOrder.Side == common.SideBuy && takerOrder.Funds.IsPositive() {
			reason = common.DoneReasonCancelled
		}
	}
	logs = append(logs, newDoneLog(ob.nextLogSeq(), ob.product.ID,
		takerOrder, remainingSize, reason))
	return logs
}

// takerDone reports whether the walk must stop before trading against the
// given maker.
func (ob *OrderBook) takerDone(takerOrder, makerOrder *BookOrder) bool {
	switch {
	case takerOrder.Type == common.OrderTypeMarket && takerOrder.Side == common.SideBuy:
		return !takerOrder.Funds.IsPositive()
	case takerOrder.Type == common.OrderTypeMarket:
		return takerOrder.Size.IsZero()
	default:
		if takerOrder.Size.IsZero() {
			return true
		}
		if takerOrder.Side == common.SideBuy {
			return takerOrder.Price.LessThan(makerOrder.Price)
		}
		return takerOrder.Price.GreaterThan(makerOrder.Price)
	}
}

// CancelOrder removes a resting order and emits its cancelled done log. The
// request side names the queue the order is NOT on: residuals rest opposite
// the side the dispatcher tags cancel requests with, so a requestSide of buy
// is looked up among the asks. An unknown id is a silent no-op.
//
// The order id is recorded in the window but its verdict is ignored. A
// replayed cancel emits nothing because the order has already left the book.
func (ob *OrderBook) CancelOrder(order *common.Order) []Log {
	_ = ob.orderIDWindow.put(order.ID)

	requestSide := order.Side
	lookupDepth := ob.asks
	if requestSide == common.SideSell {
		lookupDepth = ob.bids
	}

	bookOrder, found := lookupDepth.orders[order.ID]
	if !found {
		return nil
	}

	if err := lookupDepth.decrSize(order.ID, bookOrder.Size); err != nil {
		panic(err)
	}

	return []Log{newDoneLog(ob.nextLogSeq(), ob.product.ID,
		bookOrder, decimal.Zero, common.DoneReasonCancelled)}
}

// NullifyOrder force-terminates an order the caller rejected after
// acceptance (balance reversal and the like). No book state is touched; the
// done log reports the order's full size as the cancelled remainder.
func (ob *OrderBook) NullifyOrder(order *common.Order) []Log {
	_ = ob.orderIDWindow.put(order.ID)

	bookOrder := newBookOrder(order)
	return []Log{newDoneLog(ob.nextLogSeq(), ob.product.ID,
		bookOrder, order.Size, common.DoneReasonCancelled)}
}

// WillNotMatch reports whether the order would rest (or die) without
// trading at all: the opposite side is empty or the price does not reach
// its best level.
func (ob *OrderBook) WillNotMatch(order *common.Order) bool {
	takerOrder := newBookOrder(order)

	if takerOrder.Side == common.SideBuy {
		makerOrder, ok := ob.asks.best()
		if !ok {
			return true
		}
		return takerOrder.Type != common.OrderTypeMarket &&
			takerOrder.Price.LessThan(makerOrder.Price)
	}

	makerOrder, ok := ob.bids.best()
	if !ok {
		return true
	}
	return takerOrder.Type != common.OrderTypeMarket &&
		takerOrder.Price.GreaterThan(makerOrder.Price)
}

// WillFullyMatch reports whether the order would be fully consumed by the
// current book. Market orders always report true: whatever cannot trade is
// cancelled, never rested. The simulation applies the same stop conditions
// as ApplyOrder, so a limit order priced away from the book is never
// over-reported as fully matchable.
func (ob *OrderBook) WillFullyMatch(order *common.Order) bool {
	if order.Type == common.OrderTypeMarket {
		return true
	}

	takerOrder := newBookOrder(order)
	makerDepth := ob.asks
	if takerOrder.Side == common.SideSell {
		makerDepth = ob.bids
	}

	makerDepth.queue.Scan(func(key priceTimeKey) bool {
		makerOrder, ok := makerDepth.orders[key.orderID]
		if !ok {
			panic("order in queue but not in orders")
		}
		if ob.takerDone(takerOrder, makerOrder) {
			return false
		}
		size := decimal.Min(takerOrder.Size, makerOrder.Size)
		takerOrder.Size = takerOrder.Size.Sub(size)
		return true
	})

	return takerOrder.Size.IsZero()
}

func (ob *OrderBook) nextLogSeq() uint64 {
	ob.logSeq++
	return ob.logSeq
}

func (ob *OrderBook) nextTradeSeq() uint64 {
	ob.tradeSeq++
	return ob.tradeSeq
}
