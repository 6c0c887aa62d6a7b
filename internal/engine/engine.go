package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/common"
	"sleipnir/internal/matching"
	"sleipnir/internal/store"
)

const (
	eventChanSize = 1024
	// defaultSnapshotEvery is how many applied events pass between
	// persisted snapshots of a book.
	defaultSnapshotEvery = 1000
	snapshotTimeout      = 5 * time.Second
)

var (
	ErrUnknownProduct = errors.New("unknown product")
	ErrEngineStopped  = errors.New("engine stopped")
)

// Op selects what an Event does to the book.
type Op int

const (
	OpPlace Op = iota
	OpCancel
	OpNullify
)

func (op Op) String() string {
	switch op {
	case OpPlace:
		return "place"
	case OpCancel:
		return "cancel"
	case OpNullify:
		return "nullify"
	}
	return "unknown"
}

// Event is one order instruction addressed to a product's book.
type Event struct {
	Op    Op
	Order *common.Order
}

// LogHandler consumes a book's log batch. Handlers run on the owning
// product's goroutine, in sequence order; a slow handler slows that product
// only.
type LogHandler interface {
	HandleLogs(productID string, logs []matching.Log)
}

// Engine owns one serialized runner per product. All mutation of a book
// happens on its runner goroutine, which is what the matching core's
// single-threaded contract requires.
type Engine struct {
	store         store.SnapshotStore
	handlers      []LogHandler
	runners       map[string]*runner
	snapshotEvery uint64
	t             *tomb.Tomb
}

type runner struct {
	engine  *Engine
	book    *matching.OrderBook
	product common.Product
	events  chan Event
	applied uint64
}

func New(snapshotStore store.SnapshotStore, handlers ...LogHandler) *Engine {
	t, _ := tomb.WithContext(context.Background())
	return &Engine{
		store:         snapshotStore,
		handlers:      handlers,
		runners:       make(map[string]*runner),
		snapshotEvery: defaultSnapshotEvery,
		t:             t,
	}
}

// SetSnapshotEvery overrides the snapshot cadence. Call before AddProduct.
func (e *Engine) SetSnapshotEvery(n uint64) {
	if n > 0 {
		e.snapshotEvery = n
	}
}

// AddProduct creates the product's book, restores it from the snapshot
// store when a snapshot exists, and starts its runner. Products are added
// before Submit is first called for them; there is no removal.
func (e *Engine) AddProduct(ctx context.Context, product common.Product) error {
	if _, ok := e.runners[product.ID]; ok {
		return fmt.Errorf("product %s already registered", product.ID)
	}

	book := matching.NewOrderBook(product)
	snapshot, err := e.store.Restore(ctx, product.ID)
	switch {
	case err == nil:
		book.Restore(snapshot)
		log.Info().
			Str("product", product.ID).
			Uint64("logSeq", snapshot.LogSeq).
			Int("restingOrders", len(snapshot.Orders)).
			Msg("book restored from snapshot")
	case errors.Is(err, store.ErrSnapshotNotFound):
		log.Info().Str("product", product.ID).Msg("starting with empty book")
	default:
		return fmt.Errorf("restore snapshot for %s: %w", product.ID, err)
	}

	r := &runner{
		engine:  e,
		book:    book,
		product: product,
		events:  make(chan Event, eventChanSize),
	}
	e.runners[product.ID] = r
	e.t.Go(r.run)
	return nil
}

// Submit enqueues an event for its product. It blocks only when the
// product's queue is full, and fails once the engine is shutting down.
func (e *Engine) Submit(productID string, event Event) error {
	r, ok := e.runners[productID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	select {
	case <-e.t.Dying():
		return ErrEngineStopped
	default:
	}
	select {
	case r.events <- event:
		ordersReceived.WithLabelValues(productID, event.Op.String()).Inc()
		return nil
	case <-e.t.Dying():
		return ErrEngineStopped
	}
}

func (e *Engine) PlaceOrder(productID string, order *common.Order) error {
	return e.Submit(productID, Event{Op: OpPlace, Order: order})
}

func (e *Engine) CancelOrder(productID string, order *common.Order) error {
	return e.Submit(productID, Event{Op: OpCancel, Order: order})
}

func (e *Engine) NullifyOrder(productID string, order *common.Order) error {
	return e.Submit(productID, Event{Op: OpNullify, Order: order})
}

// Stop drains nothing: queued but unapplied events are lost, which is safe
// because upstream delivery is at-least-once and the dedup window absorbs
// the replay. Each runner persists a final snapshot on the way out.
func (e *Engine) Stop() error {
	e.t.Kill(nil)
	return e.t.Wait()
}

func (r *runner) run() error {
	logger := log.With().Str("product", r.product.ID).Logger()
	logger.Info().Msg("product runner started")

	for {
		select {
		case <-r.engine.t.Dying():
			r.snapshot(logger)
			logger.Info().Msg("product runner stopped")
			return nil
		case event := <-r.events:
			r.apply(event)
			r.applied++
			if r.applied%r.engine.snapshotEvery == 0 {
				r.snapshot(logger)
			}
		}
	}
}

func (r *runner) apply(event Event) {
	var logs []matching.Log
	switch event.Op {
	case OpPlace:
		logs = r.book.ApplyOrder(event.Order)
	case OpCancel:
		logs = r.book.CancelOrder(event.Order)
	case OpNullify:
		logs = r.book.NullifyOrder(event.Order)
	}
	if len(logs) == 0 {
		return
	}

	logsEmitted.WithLabelValues(r.product.ID).Add(float64(len(logs)))
	for _, l := range logs {
		if _, ok := l.(*matching.MatchLog); ok {
			tradesMatched.WithLabelValues(r.product.ID).Inc()
		}
	}

	for _, handler := range r.engine.handlers {
		handler.HandleLogs(r.product.ID, logs)
	}
}

func (r *runner) snapshot(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	snapshot := r.book.Snapshot()
	if err := r.engine.store.Store(ctx, snapshot); err != nil {
		logger.Error().Err(err).Msg("unable to persist snapshot")
		return
	}
	snapshotsTaken.WithLabelValues(r.product.ID).Inc()
	logger.Debug().Uint64("logSeq", snapshot.LogSeq).Msg("snapshot persisted")
}
