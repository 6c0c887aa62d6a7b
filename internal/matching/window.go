package matching

import (
	"errors"

	"github.com/bits-and-blooms/bitset"
)

var (
	ErrOrderIDDuplicate = errors.New("order id already seen within window")
	ErrOrderIDExpired   = errors.New("order id below window")
)

// Window is a bounded sliding window over observed order ids, used to make
// order delivery idempotent under at-least-once redelivery. Membership
// follows a high-water-mark rule: ids at or below Max-Cap are treated as
// already seen, ids inside (Max-Cap, Max] are looked up in the bitmap, and
// an id above Max advances the high water and slides the window forward.
//
// Fields are exported so the window survives snapshot serialization intact.
type Window struct {
	Max    uint64         `json:"max"`
	Cap    uint64         `json:"cap"`
	Bitmap *bitset.BitSet `json:"bitmap"`
}

func NewWindow(pos, capacity uint64) Window {
	return Window{
		Max:    pos,
		Cap:    capacity,
		Bitmap: bitset.New(uint(capacity)),
	}
}

// put records an order id. It returns ErrOrderIDDuplicate if the id was
// already recorded inside the window and ErrOrderIDExpired if the id has
// fallen behind it; either way the caller must treat the order as already
// processed.
func (w *Window) put(id uint64) error {
	switch {
	case id+w.Cap <= w.Max:
		return ErrOrderIDExpired
	case id > w.Max:
		// Slide forward, releasing every position that falls out of the
		// lookback before claiming the new high water.
		if id-w.Max >= w.Cap {
			w.Bitmap.ClearAll()
		} else {
			for i := w.Max + 1; i < id; i++ {
				w.Bitmap.Clear(uint(i % w.Cap))
			}
		}
		w.Max = id
		w.Bitmap.Set(uint(id % w.Cap))
	default:
		pos := uint(id % w.Cap)
		if w.Bitmap.Test(pos) {
			return ErrOrderIDDuplicate
		}
		w.Bitmap.Set(pos)
	}
	return nil
}

// clone deep-copies the window so a snapshot cannot alias live state.
func (w Window) clone() Window {
	c := w
	if w.Bitmap != nil {
		c.Bitmap = w.Bitmap.Clone()
	}
	return c
}
