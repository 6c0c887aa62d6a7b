package matching

import "sleipnir/internal/common"

// Snapshot is a self-contained copy of everything that defines a book's
// observable identity: the resting orders, both sequence counters, and the
// dedup window. Restoring it reproduces the book exactly.
type Snapshot struct {
	ProductID     string      `json:"product_id"`
	Orders        []BookOrder `json:"orders"`
	TradeSeq      uint64      `json:"trade_seq"`
	LogSeq        uint64      `json:"log_seq"`
	OrderIDWindow Window      `json:"order_id_window"`
}

// Snapshot captures the current state. Orders are emitted in queue priority
// order, asks then bids, so two identical books always serialize to
// identical bytes.
func (ob *OrderBook) Snapshot() *Snapshot {
	snapshot := &Snapshot{
		ProductID:     ob.product.ID,
		Orders:        make([]BookOrder, 0, ob.asks.len()+ob.bids.len()),
		TradeSeq:      ob.tradeSeq,
		LogSeq:        ob.logSeq,
		OrderIDWindow: ob.orderIDWindow.clone(),
	}

	for _, d := range []*depth{ob.asks, ob.bids} {
		d.queue.Scan(func(key priceTimeKey) bool {
			snapshot.Orders = append(snapshot.Orders, *d.orders[key.orderID])
			return true
		})
	}
	return snapshot
}

// Restore replaces the book's state with the snapshot's. Counters are
// restored verbatim, and every order is re-added through the same path
// ApplyOrder rests residuals on, so the rebuilt queues are identical to the
// ones the snapshot was taken from.
func (ob *OrderBook) Restore(snapshot *Snapshot) {
	ob.asks = newAskDepth()
	ob.bids = newBidDepth()
	ob.tradeSeq = snapshot.TradeSeq
	ob.logSeq = snapshot.LogSeq
	ob.orderIDWindow = snapshot.OrderIDWindow.clone()

	for i := range snapshot.Orders {
		order := snapshot.Orders[i]
		if order.Side == common.SideBuy {
			ob.bids.add(&order)
		} else {
			ob.asks.add(&order)
		}
	}
}
