package matching

import "github.com/shopspring/decimal"

// priceTimeKey positions a resting order inside a side's queue. Order ids
// are monotonic in arrival, so comparing ids on equal prices encodes time
// priority: the earlier order always wins the tie, on both sides.
type priceTimeKey struct {
	price   decimal.Decimal
	orderID uint64
}

// askKeyLess sorts asks best-first: lowest price, then lowest order id.
func askKeyLess(a, b priceTimeKey) bool {
	switch a.price.Cmp(b.price) {
	case -1:
		return true
	case 1:
		return false
	}
	return a.orderID < b.orderID
}

// bidKeyLess sorts bids best-first: highest price, then lowest order id.
func bidKeyLess(a, b priceTimeKey) bool {
	switch a.price.Cmp(b.price) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.orderID < b.orderID
}
