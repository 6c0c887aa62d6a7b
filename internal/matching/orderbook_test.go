package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleipnir/internal/common"
)

// --- Setup & Helpers --------------------------------------------------------

func testProduct() common.Product {
	return common.Product{
		ID:            "BTC-USD",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		BaseScale:     2,
		QuoteScale:    2,
	}
}

func createTestOrderBook() *OrderBook {
	return NewOrderBook(testProduct())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limitOrder(id uint64, side common.Side, price, size string) *common.Order {
	return &common.Order{
		ID:          id,
		UserID:      id * 100,
		Side:        side,
		Type:        common.OrderTypeLimit,
		TimeInForce: common.GoodTillCanceled,
		Size:        dec(size),
		Funds:       decimal.Zero,
		Price:       dec(price),
	}
}

func marketOrder(id uint64, side common.Side, size, funds string) *common.Order {
	return &common.Order{
		ID:          id,
		UserID:      id * 100,
		Side:        side,
		Type:        common.OrderTypeMarket,
		TimeInForce: common.ImmediateOrCancel,
		Size:        dec(size),
		Funds:       dec(funds),
	}
}

// checkBookInvariants asserts the structural invariants every reachable
// state must satisfy: queue and order index agree, and every resting order
// has positive size.
func checkBookInvariants(t *testing.T, book *OrderBook) {
	t.Helper()
	for _, d := range []*depth{book.asks, book.bids} {
		assert.Equal(t, len(d.orders), d.queue.Len())
		d.queue.Scan(func(key priceTimeKey) bool {
			order, ok := d.orders[key.orderID]
			if assert.True(t, ok, "order %d in queue but not in orders", key.orderID) {
				assert.True(t, order.Price.Equal(key.price))
				assert.True(t, order.Size.IsPositive())
			}
			return true
		})
	}
}

// checkSequences asserts the batch's log sequences are gap-free and
// contiguous with the previous batch.
func checkSequences(t *testing.T, lastSeq uint64, logs []Log) uint64 {
	t.Helper()
	for _, l := range logs {
		assert.Equal(t, lastSeq+1, l.GetSeq())
		lastSeq = l.GetSeq()
	}
	return lastSeq
}

// --- Scenarios --------------------------------------------------------------

func TestApplyOrder_RestLimitBid(t *testing.T) {
	book := createTestOrderBook()

	logs := book.ApplyOrder(limitOrder(1, common.SideBuy, "100", "1"))
	require.Len(t, logs, 1)

	open, ok := logs[0].(*OpenLog)
	require.True(t, ok)
	assert.Equal(t, uint64(1), open.Sequence)
	assert.Equal(t, uint64(1), open.OrderID)
	assert.Equal(t, "100", open.Price.String())
	assert.Equal(t, "1", open.RemainingSize.String())
	assert.Equal(t, common.SideBuy, open.Side)

	best, ok := book.bids.best()
	require.True(t, ok)
	assert.Equal(t, uint64(1), best.OrderID)
	assert.Equal(t, "100", best.Price.String())
	checkBookInvariants(t, book)
}

func TestApplyOrder_CrossRestingAsk(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideBuy, "100", "1"))
	book.ApplyOrder(limitOrder(3, common.SideSell, "101", "1"))

	logs := book.ApplyOrder(limitOrder(2, common.SideBuy, "101", "1"))
	require.Len(t, logs, 3)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, uint64(1), match.TradeSeq)
	assert.Equal(t, uint64(2), match.TakerOrderID)
	assert.Equal(t, uint64(3), match.MakerOrderID)
	assert.Equal(t, "101", match.Price.String())
	assert.Equal(t, "1", match.Size.String())
	assert.Equal(t, common.SideSell, match.Side, "match side is the maker's")

	makerDone, ok := logs[1].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(3), makerDone.OrderID)
	assert.Equal(t, common.DoneReasonFilled, makerDone.Reason)
	assert.Equal(t, "0", makerDone.RemainingSize.String())

	takerDone, ok := logs[2].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(2), takerDone.OrderID)
	assert.Equal(t, common.DoneReasonFilled, takerDone.Reason)

	// The untouched resting bid is still alone on its side.
	assert.Equal(t, 1, book.bids.len())
	assert.Equal(t, 0, book.asks.len())
	checkBookInvariants(t, book)
}

func TestApplyOrder_PartialFillRests(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(10, common.SideSell, "50", "1"))

	logs := book.ApplyOrder(limitOrder(11, common.SideBuy, "50", "3"))
	require.Len(t, logs, 3)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, "1", match.Size.String())

	makerDone, ok := logs[1].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(10), makerDone.OrderID)
	assert.Equal(t, common.DoneReasonFilled, makerDone.Reason)

	open, ok := logs[2].(*OpenLog)
	require.True(t, ok)
	assert.Equal(t, uint64(11), open.OrderID)
	assert.Equal(t, "2", open.RemainingSize.String())
	assert.Equal(t, "50", open.Price.String())

	best, ok := book.bids.best()
	require.True(t, ok)
	assert.Equal(t, uint64(11), best.OrderID)
	assert.Equal(t, "2", best.Size.String())
	checkBookInvariants(t, book)
}

func TestApplyOrder_MarketBuyExhaustsBook(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(20, common.SideSell, "10", "2"))

	logs := book.ApplyOrder(marketOrder(21, common.SideBuy, "0", "100"))
	require.Len(t, logs, 3)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, "2", match.Size.String())
	assert.Equal(t, "10", match.Price.String())

	makerDone, ok := logs[1].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(20), makerDone.OrderID)
	assert.Equal(t, common.DoneReasonFilled, makerDone.Reason)

	takerDone, ok := logs[2].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(21), takerDone.OrderID)
	assert.Equal(t, common.DoneReasonCancelled, takerDone.Reason)
	assert.Equal(t, "0", takerDone.Price.String())
	assert.Equal(t, "0", takerDone.RemainingSize.String())

	assert.Equal(t, 0, book.asks.len())
	assert.Equal(t, 0, book.bids.len())
	checkBookInvariants(t, book)
}

func TestApplyOrder_MarketBuyFundsFullySpent(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(20, common.SideSell, "10", "5"))

	logs := book.ApplyOrder(marketOrder(21, common.SideBuy, "0", "20"))
	require.Len(t, logs, 2)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, "2", match.Size.String())

	done, ok := logs[1].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, common.DoneReasonFilled, done.Reason)

	best, ok := book.asks.best()
	require.True(t, ok)
	assert.Equal(t, "3", best.Size.String())
}

func TestApplyOrder_MarketBuyDustFundsCancelled(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(20, common.SideSell, "10", "5"))

	// 0.05 funds affords 0.005 base, which truncates to zero at scale 2:
	// nothing trades and the order closes cancelled.
	logs := book.ApplyOrder(marketOrder(21, common.SideBuy, "0", "0.05"))
	require.Len(t, logs, 1)

	done, ok := logs[0].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, common.DoneReasonCancelled, done.Reason)
	assert.Equal(t, 1, book.asks.len())
	checkBookInvariants(t, book)
}

func TestApplyOrder_MarketSellResidualCancelled(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(30, common.SideBuy, "10", "1"))

	logs := book.ApplyOrder(marketOrder(31, common.SideSell, "3", "0"))
	require.Len(t, logs, 3)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, "1", match.Size.String())
	assert.Equal(t, common.SideBuy, match.Side)

	takerDone, ok := logs[2].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(31), takerDone.OrderID)
	assert.Equal(t, common.DoneReasonCancelled, takerDone.Reason)
	assert.Equal(t, "0", takerDone.Price.String())
	assert.Equal(t, "0", takerDone.RemainingSize.String())
	checkBookInvariants(t, book)
}

func TestApplyOrder_MarketSellFullyFilled(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(30, common.SideBuy, "10", "5"))

	logs := book.ApplyOrder(marketOrder(31, common.SideSell, "2", "0"))
	require.Len(t, logs, 2)

	done, ok := logs[1].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, common.DoneReasonFilled, done.Reason)
	assert.Equal(t, "0", done.RemainingSize.String())
}

func TestApplyOrder_DuplicateSuppressed(t *testing.T) {
	book := createTestOrderBook()

	first := book.ApplyOrder(limitOrder(1, common.SideBuy, "100", "1"))
	require.Len(t, first, 1)

	second := book.ApplyOrder(limitOrder(1, common.SideBuy, "100", "1"))
	assert.Empty(t, second)

	// No state or counter moved on the replay.
	assert.Equal(t, 1, book.bids.len())
	assert.Equal(t, uint64(1), book.logSeq)
	assert.Equal(t, uint64(0), book.tradeSeq)
}

func TestApplyOrder_TieBreakByOrderID(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(7, common.SideSell, "5", "1"))
	book.ApplyOrder(limitOrder(4, common.SideSell, "5", "1"))

	logs := book.ApplyOrder(limitOrder(8, common.SideBuy, "5", "1"))
	require.NotEmpty(t, logs)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, uint64(4), match.MakerOrderID, "lower id wins at equal price")
}

func TestApplyOrder_LimitStopsAtPriceCross(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "10", "1"))
	book.ApplyOrder(limitOrder(2, common.SideSell, "12", "1"))

	// Crosses the 10 level but not the 12 level; the rest opens at 11.
	logs := book.ApplyOrder(limitOrder(3, common.SideBuy, "11", "2"))
	require.Len(t, logs, 3)

	match, ok := logs[0].(*MatchLog)
	require.True(t, ok)
	assert.Equal(t, uint64(1), match.MakerOrderID)
	assert.Equal(t, "10", match.Price.String())

	open, ok := logs[2].(*OpenLog)
	require.True(t, ok)
	assert.Equal(t, "1", open.RemainingSize.String())
	assert.Equal(t, "11", open.Price.String())

	assert.Equal(t, 1, book.asks.len())
	assert.Equal(t, 1, book.bids.len())
	checkBookInvariants(t, book)
}

func TestApplyOrder_SweepsMultipleLevels(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "10", "1"))
	book.ApplyOrder(limitOrder(2, common.SideSell, "11", "1"))
	book.ApplyOrder(limitOrder(3, common.SideSell, "12", "1"))

	var lastSeq uint64 = 3
	logs := book.ApplyOrder(limitOrder(4, common.SideBuy, "12", "3"))
	require.Len(t, logs, 7) // three match/done pairs + taker done

	lastSeq = checkSequences(t, lastSeq, logs)
	assert.Equal(t, uint64(10), lastSeq)

	prices := []string{"10", "11", "12"}
	for i, price := range prices {
		match, ok := logs[2*i].(*MatchLog)
		require.True(t, ok)
		assert.Equal(t, price, match.Price.String())
		assert.Equal(t, uint64(i+1), match.TradeSeq)
	}

	takerDone, ok := logs[6].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, common.DoneReasonFilled, takerDone.Reason)
	checkBookInvariants(t, book)
}

// --- Cancel & nullify -------------------------------------------------------

func TestCancelOrder_RemovesRestingOrder(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "100", "2"))

	// The resting order sits in the asks, so the cancel request names the
	// buy side.
	cancel := limitOrder(50, common.SideBuy, "100", "2")
	cancel.ID = 1
	logs := book.CancelOrder(cancel)
	require.Len(t, logs, 1)

	done, ok := logs[0].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(1), done.OrderID)
	assert.Equal(t, common.DoneReasonCancelled, done.Reason)
	assert.Equal(t, "0", done.RemainingSize.String())
	assert.Equal(t, "100", done.Price.String())

	assert.Equal(t, 0, book.asks.len())
	checkBookInvariants(t, book)
}

func TestCancelOrder_Idempotent(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "100", "2"))

	cancel := limitOrder(1, common.SideBuy, "100", "2")

	logs := book.CancelOrder(cancel)
	assert.Len(t, logs, 1)

	// Repeats and cancels of unknown ids produce nothing.
	assert.Empty(t, book.CancelOrder(cancel))
	unknown := limitOrder(99, common.SideBuy, "1", "1")
	assert.Empty(t, book.CancelOrder(unknown))
}

func TestCancelOrder_WrongSideMisses(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "100", "2"))

	// A sell-side request looks among the bids and finds nothing.
	cancel := limitOrder(1, common.SideSell, "100", "2")
	assert.Empty(t, book.CancelOrder(cancel))
	assert.Equal(t, 1, book.asks.len())
}

func TestNullifyOrder(t *testing.T) {
	book := createTestOrderBook()

	logs := book.NullifyOrder(limitOrder(5, common.SideBuy, "100", "3"))
	require.Len(t, logs, 1)

	done, ok := logs[0].(*DoneLog)
	require.True(t, ok)
	assert.Equal(t, uint64(5), done.OrderID)
	assert.Equal(t, common.DoneReasonCancelled, done.Reason)
	assert.Equal(t, "3", done.RemainingSize.String())

	// No book state beyond the counters and window moved.
	assert.Equal(t, 0, book.bids.len())
	assert.Equal(t, 0, book.asks.len())
	assert.Equal(t, uint64(1), book.logSeq)
}

// --- Predicates -------------------------------------------------------------

func TestWillNotMatch(t *testing.T) {
	book := createTestOrderBook()
	assert.True(t, book.WillNotMatch(limitOrder(1, common.SideBuy, "100", "1")))

	book.ApplyOrder(limitOrder(1, common.SideSell, "100", "1"))
	assert.True(t, book.WillNotMatch(limitOrder(2, common.SideBuy, "99", "1")))
	assert.False(t, book.WillNotMatch(limitOrder(3, common.SideBuy, "100", "1")))
	assert.False(t, book.WillNotMatch(marketOrder(4, common.SideBuy, "0", "10")))
}

func TestWillFullyMatch(t *testing.T) {
	book := createTestOrderBook()
	book.ApplyOrder(limitOrder(1, common.SideSell, "100", "1"))
	book.ApplyOrder(limitOrder(2, common.SideSell, "101", "1"))

	assert.True(t, book.WillFullyMatch(limitOrder(3, common.SideBuy, "101", "2")))
	assert.False(t, book.WillFullyMatch(limitOrder(4, common.SideBuy, "100", "2")))

	// A taker priced below the best ask matches nothing at all.
	assert.False(t, book.WillFullyMatch(limitOrder(5, common.SideBuy, "99", "1")))

	// Market orders never rest, so they always fully resolve.
	assert.True(t, book.WillFullyMatch(marketOrder(6, common.SideBuy, "0", "1")))

	// The simulation must not mutate the book.
	assert.Equal(t, 2, book.asks.len())
	checkBookInvariants(t, book)
}

// --- Sequence discipline ----------------------------------------------------

func TestLogSequencesGapFreeAcrossCalls(t *testing.T) {
	book := createTestOrderBook()

	var lastSeq uint64
	lastSeq = checkSequences(t, lastSeq, book.ApplyOrder(limitOrder(1, common.SideSell, "10", "1")))
	lastSeq = checkSequences(t, lastSeq, book.ApplyOrder(limitOrder(2, common.SideBuy, "10", "2")))
	lastSeq = checkSequences(t, lastSeq, book.NullifyOrder(limitOrder(3, common.SideBuy, "10", "1")))

	cancel := limitOrder(2, common.SideSell, "10", "1")
	lastSeq = checkSequences(t, lastSeq, book.CancelOrder(cancel))
	assert.Equal(t, book.logSeq, lastSeq)
}
