package feed

import (
	"errors"
	"math"
	"sync"
)

var (
	// ErrNoNextVideo is returned by Next on the last item.
	ErrNoNextVideo = errors.New("no next video available")
	// ErrNoPreviousVideo is returned by Prev on the first item.
	ErrNoPreviousVideo = errors.New("no previous video")
)

// Cursor tracks the active item of a vertically scrolled feed. Exactly one
// item, the active one, autoplays.
type Cursor struct {
	mu    sync.Mutex
	index int
	count int
}

// NewCursor returns a cursor over count items, positioned on the first.
func NewCursor(count int) *Cursor {
	if count < 0 {
		count = 0
	}
	return &Cursor{count: count}
}

// SetCount updates the number of items, keeping the index in range.
func (c *Cursor) SetCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count < 0 {
		count = 0
	}
	c.count = count
	c.index = c.clampLocked(c.index)
}

// Scroll derives the active index from the scroll offset and the height of
// one item, and reports whether it changed.
func (c *Cursor) Scroll(scrollTop, itemHeight float64) (int, bool) {
	if itemHeight <= 0 {
		return c.Index(), false
	}
	next := int(math.Round(scrollTop / itemHeight))

	c.mu.Lock()
	defer c.mu.Unlock()
	next = c.clampLocked(next)
	changed := next != c.index
	c.index = next
	return next, changed
}

// Next moves to the following item.
func (c *Cursor) Next() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index+1 >= c.count {
		return c.index, ErrNoNextVideo
	}
	c.index++
	return c.index, nil
}

// Prev moves to the preceding item.
func (c *Cursor) Prev() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == 0 {
		return 0, ErrNoPreviousVideo
	}
	c.index--
	return c.index, nil
}

// Index returns the active index.
func (c *Cursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Autoplay reports whether item i should be playing.
func (c *Cursor) Autoplay(i int) bool {
	return i == c.Index()
}

func (c *Cursor) clampLocked(i int) int {
	if i >= c.count {
		i = c.count - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
