package matching

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// depth is one side of the book: every resting order indexed by id, plus a
// priority queue of (price, order id) keys sorted best-first for that side.
// Both containers always hold exactly the same set of orders.
type depth struct {
	orders map[uint64]*BookOrder
	queue  *btree.BTreeG[priceTimeKey]
}

func newAskDepth() *depth {
	return &depth{
		orders: make(map[uint64]*BookOrder),
		queue:  btree.NewBTreeG(askKeyLess),
	}
}

func newBidDepth() *depth {
	return &depth{
		orders: make(map[uint64]*BookOrder),
		queue:  btree.NewBTreeG(bidKeyLess),
	}
}

// add rests an order on this side. The order must have positive size and an
// id not already present; it becomes visible at its price-time position
// immediately.
func (d *depth) add(order *BookOrder) {
	d.orders[order.OrderID] = order
	d.queue.Set(priceTimeKey{price: order.Price, orderID: order.OrderID})
}

// decrSize reduces a resting order's size by delta, removing the order from
// both containers when the remainder hits exactly zero. Decrementing below
// zero means the caller's accounting has diverged from the book, which is
// unrecoverable.
func (d *depth) decrSize(orderID uint64, delta decimal.Decimal) error {
	order, ok := d.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d not found on book side", orderID)
	}
	if order.Size.LessThan(delta) {
		return fmt.Errorf("order %d size %s less than decrement %s",
			orderID, order.Size, delta)
	}

	order.Size = order.Size.Sub(delta)
	if order.Size.IsZero() {
		delete(d.orders, orderID)
		d.queue.Delete(priceTimeKey{price: order.Price, orderID: orderID})
	}
	return nil
}

// best returns the highest-priority resting order without removing it.
func (d *depth) best() (*BookOrder, bool) {
	key, ok := d.queue.Min()
	if !ok {
		return nil, false
	}
	order, ok := d.orders[key.orderID]
	if !ok {
		// The queue and the order index disagree; the book is corrupt.
		panic(fmt.Sprintf("order %d in queue but not in orders", key.orderID))
	}
	return order, true
}

func (d *depth) len() int {
	return len(d.orders)
}
