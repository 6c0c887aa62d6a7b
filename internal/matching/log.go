package matching

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"sleipnir/internal/common"
)

type LogType string

const (
	LogTypeMatch LogType = "match"
	LogTypeOpen  LogType = "open"
	LogTypeDone  LogType = "done"
)

// Log is any record the book emits. Batches are heterogeneous and ordered;
// the sequence number is the only projection every consumer needs.
type Log interface {
	GetSeq() uint64
}

// NanoTime marshals as integer nanoseconds since the Unix epoch, so the log
// stream never carries a lossy or locale-dependent time representation.
type NanoTime time.Time

func (t NanoTime) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Time(t).UnixNano(), 10), nil
}

func (t *NanoTime) UnmarshalJSON(data []byte) error {
	ns, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*t = NanoTime(time.Unix(0, ns).UTC())
	return nil
}

func (t NanoTime) Time() time.Time {
	return time.Time(t)
}

// Base is the header shared by every log variant.
type Base struct {
	Type      LogType  `json:"type"`
	Sequence  uint64   `json:"sequence"`
	ProductID string   `json:"product_id"`
	Time      NanoTime `json:"time"`
}

func newBase(logType LogType, logSeq uint64, productID string) Base {
	return Base{
		Type:      logType,
		Sequence:  logSeq,
		ProductID: productID,
		Time:      NanoTime(time.Now().UTC()),
	}
}

// OpenLog records a limit taker's residual resting on the book.
type OpenLog struct {
	Base
	OrderID       uint64             `json:"order_id"`
	UserID        uint64             `json:"user_id"`
	RemainingSize decimal.Decimal    `json:"remaining_size"`
	Price         decimal.Decimal    `json:"price"`
	Side          common.Side        `json:"side"`
	TimeInForce   common.TimeInForce `json:"time_in_force"`
}

func (l *OpenLog) GetSeq() uint64 {
	return l.Sequence
}

func newOpenLog(logSeq uint64, productID string, takerOrder *BookOrder) *OpenLog {
	return &OpenLog{
		Base:          newBase(LogTypeOpen, logSeq, productID),
		OrderID:       takerOrder.OrderID,
		UserID:        takerOrder.UserID,
		RemainingSize: takerOrder.Size,
		Price:         takerOrder.Price,
		Side:          takerOrder.Side,
		TimeInForce:   takerOrder.TimeInForce,
	}
}

// DoneLog records an order leaving the book: fully consumed, cancelled, or
// nullified.
type DoneLog struct {
	Base
	OrderID       uint64             `json:"order_id"`
	UserID        uint64             `json:"user_id"`
	Price         decimal.Decimal    `json:"price"`
	RemainingSize decimal.Decimal    `json:"remaining_size"`
	Reason        common.DoneReason  `json:"reason"`
	Side          common.Side        `json:"side"`
	TimeInForce   common.TimeInForce `json:"time_in_force"`
}

func (l *DoneLog) GetSeq() uint64 {
	return l.Sequence
}

func newDoneLog(logSeq uint64, productID string, order *BookOrder,
	remainingSize decimal.Decimal, reason common.DoneReason) *DoneLog {
	return &DoneLog{
		Base:          newBase(LogTypeDone, logSeq, productID),
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		Price:         order.Price,
		RemainingSize: remainingSize,
		Reason:        reason,
		Side:          order.Side,
		TimeInForce:   order.TimeInForce,
	}
}

// MatchLog records a trade. Side and price are the maker's: the trade
// happens at the resting price, and downstream aggregation keys on the
// passive side.
type MatchLog struct {
	Base
	TradeSeq         uint64             `json:"trade_seq"`
	TakerOrderID     uint64             `json:"taker_order_id"`
	MakerOrderID     uint64             `json:"maker_order_id"`
	TakerUserID      uint64             `json:"taker_user_id"`
	MakerUserID      uint64             `json:"maker_user_id"`
	Side             common.Side        `json:"side"`
	Price            decimal.Decimal    `json:"price"`
	Size             decimal.Decimal    `json:"size"`
	TakerTimeInForce common.TimeInForce `json:"taker_time_in_force"`
	MakerTimeInForce common.TimeInForce `json:"maker_time_in_force"`
}

func (l *MatchLog) GetSeq() uint64 {
	return l.Sequence
}

func newMatchLog(logSeq uint64, productID string, tradeSeq uint64,
	takerOrder, makerOrder *BookOrder, price, size decimal.Decimal) *MatchLog {
	return &MatchLog{
		Base:             newBase(LogTypeMatch, logSeq, productID),
		TradeSeq:         tradeSeq,
		TakerOrderID:     takerOrder.OrderID,
		MakerOrderID:     makerOrder.OrderID,
		TakerUserID:      takerOrder.UserID,
		MakerUserID:      makerOrder.UserID,
		Side:             makerOrder.Side,
		Price:            price,
		Size:             size,
		TakerTimeInForce: takerOrder.TimeInForce,
		MakerTimeInForce: makerOrder.TimeInForce,
	}
}
