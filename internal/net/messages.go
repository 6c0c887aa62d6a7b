package net

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sleipnir/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidOrderType   = errors.New("invalid order type")
)

// Request types accepted on the order entry socket.
const (
	RequestPlace   = "place"
	RequestCancel  = "cancel"
	RequestNullify = "nullify"
)

// OrderPayload is the wire form of an order. Decimal fields travel as
// strings; absent size/funds/price default to zero.
type OrderPayload struct {
	ID          uint64 `json:"id"`
	UserID      uint64 `json:"user_id"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	Size        string `json:"size,omitempty"`
	Funds       string `json:"funds,omitempty"`
	Price       string `json:"price,omitempty"`
}

// Request is one newline-delimited JSON message from a client.
type Request struct {
	Type      string       `json:"type"`
	ProductID string       `json:"product_id"`
	Order     OrderPayload `json:"order"`
}

// Response acknowledges a request. Matches and fills are not reported here;
// clients follow the feed for the log stream.
type Response struct {
	Status  string `json:"status"`
	OrderID uint64 `json:"order_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func okResponse(orderID uint64) Response {
	return Response{Status: "ok", OrderID: orderID}
}

func errorResponse(err error) Response {
	return Response{Status: "error", Error: err.Error()}
}

// Order validates the payload and converts it into the engine's order form.
func (p *OrderPayload) Order() (*common.Order, error) {
	side := common.Side(p.Side)
	if side != common.SideBuy && side != common.SideSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, p.Side)
	}

	orderType := common.OrderType(p.Type)
	if orderType != common.OrderTypeLimit && orderType != common.OrderTypeMarket {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrderType, p.Type)
	}

	size, err := parseDecimal(p.Size, "size")
	if err != nil {
		return nil, err
	}
	funds, err := parseDecimal(p.Funds, "funds")
	if err != nil {
		return nil, err
	}
	price, err := parseDecimal(p.Price, "price")
	if err != nil {
		return nil, err
	}
	if size.IsNegative() || funds.IsNegative() || price.IsNegative() {
		return nil, errors.New("size, funds and price must be non-negative")
	}

	tif := common.TimeInForce(p.TimeInForce)
	if tif == "" {
		tif = common.GoodTillCanceled
	}

	return &common.Order{
		ID:          p.ID,
		UserID:      p.UserID,
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Size:        size,
		Funds:       funds,
		Price:       price,
		Time:        time.Now().UTC(),
	}, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}
