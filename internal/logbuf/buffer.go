// Package logbuf implements the bounded, newest-first message buffer shown
// in the operator console.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity is used when a buffer is created with a non-positive size.
const DefaultCapacity = 25

// Change kinds reported to observers.
const (
	ChangeAdded   = "added"
	ChangeEvicted = "evicted"
	ChangeRemoved = "removed"
	ChangeCleared = "cleared"
)

// Change describes one completed mutation.
type Change struct {
	Kind    string
	IDs     []string
	Row     *Row // set for ChangeAdded
	Len     int
	Visible bool
}

// ChangeFunc observes buffer mutations. Changes are delivered one at a time
// in mutation order. It runs after the buffer lock is released, so it may
// read the buffer, but it must not mutate it.
type ChangeFunc func(Change)

// Buffer is an ordered collection of rows, newest first, holding at most
// Capacity rows. Safe for concurrent use.
type Buffer struct {
	// delivery is held from the start of a mutation until its observer
	// returns.
	delivery sync.Mutex

	mu       sync.Mutex
	rows     []Row // rows[0] is the newest
	index    map[string]struct{}
	capacity int
	onChange ChangeFunc
	now      func() time.Time
}

// New creates a buffer holding at most capacity rows.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		index:    make(map[string]struct{}),
		capacity: capacity,
		now:      time.Now,
	}
}

// OnChange registers fn as the mutation observer, replacing any previous one.
func (b *Buffer) OnChange(fn ChangeFunc) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Push inserts row at the front. A row whose ID is already present is the
// same logical event and is rejected; Push then reports false. Oldest rows
// are evicted until the buffer fits its capacity.
func (b *Buffer) Push(row Row) bool {
	b.delivery.Lock()
	defer b.delivery.Unlock()

	b.mu.Lock()
	if _, dup := b.index[row.ID]; dup {
		b.mu.Unlock()
		return false
	}

	b.rows = append(b.rows, Row{})
	copy(b.rows[1:], b.rows)
	b.rows[0] = row
	b.index[row.ID] = struct{}{}

	evicted := b.evictLocked(b.capacity)
	changes := []Change{b.changeLocked(ChangeAdded, []string{row.ID}, &row)}
	if len(evicted) > 0 {
		changes = append(changes, b.changeLocked(ChangeEvicted, evicted, nil))
	}
	fn := b.onChange
	b.mu.Unlock()

	notify(fn, changes...)
	return true
}

// Post builds a row for a local event happening now and pushes it.
func (b *Buffer) Post(level Level, text string) (Row, bool) {
	row := NewRowAt(b.now(), level, text)
	return row, b.Push(row)
}

// Remove deletes the row with id. Absent rows are not an error; the row
// may already have been evicted.
func (b *Buffer) Remove(id string) bool {
	b.delivery.Lock()
	defer b.delivery.Unlock()

	b.mu.Lock()
	if _, ok := b.index[id]; !ok {
		b.mu.Unlock()
		return false
	}
	for i := range b.rows {
		if b.rows[i].ID == id {
			b.rows = append(b.rows[:i], b.rows[i+1:]...)
			break
		}
	}
	delete(b.index, id)
	change := b.changeLocked(ChangeRemoved, []string{id}, nil)
	fn := b.onChange
	b.mu.Unlock()

	notify(fn, change)
	return true
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.delivery.Lock()
	defer b.delivery.Unlock()

	b.mu.Lock()
	ids := make([]string, len(b.rows))
	for i, r := range b.rows {
		ids[i] = r.ID
	}
	b.rows = nil
	b.index = make(map[string]struct{})
	change := b.changeLocked(ChangeCleared, ids, nil)
	fn := b.onChange
	b.mu.Unlock()

	notify(fn, change)
}

// Resize changes the capacity, evicting the oldest rows immediately when
// the buffer holds more than n. Values below 1 are clamped to 1.
func (b *Buffer) Resize(n int) {
	if n < 1 {
		n = 1
	}
	b.delivery.Lock()
	defer b.delivery.Unlock()

	b.mu.Lock()
	b.capacity = n
	evicted := b.evictLocked(n)
	var changes []Change
	if len(evicted) > 0 {
		changes = append(changes, b.changeLocked(ChangeEvicted, evicted, nil))
	}
	fn := b.onChange
	b.mu.Unlock()

	notify(fn, changes...)
}

// Capacity returns the current maximum size.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Len returns the number of rows.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows)
}

// Visible reports whether the message panel should be shown. It is derived
// from the contents on every call.
func (b *Buffer) Visible() bool {
	return b.Len() > 0
}

// Get returns the row with id.
func (b *Buffer) Get(id string) (Row, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.index[id]; !ok {
		return Row{}, false
	}
	for _, r := range b.rows {
		if r.ID == id {
			return r, true
		}
	}
	return Row{}, false
}

// Rows returns a copy of the rows, newest first.
func (b *Buffer) Rows() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Row, len(b.rows))
	copy(out, b.rows)
	return out
}

// evictLocked drops rows from the back until len <= n and returns their IDs
// oldest first.
func (b *Buffer) evictLocked(n int) []string {
	var evicted []string
	for len(b.rows) > n {
		last := b.rows[len(b.rows)-1]
		b.rows = b.rows[:len(b.rows)-1]
		delete(b.index, last.ID)
		evicted = append(evicted, last.ID)
	}
	return evicted
}

func (b *Buffer) changeLocked(kind string, ids []string, row *Row) Change {
	return Change{
		Kind:    kind,
		IDs:     ids,
		Row:     row,
		Len:     len(b.rows),
		Visible: len(b.rows) > 0,
	}
}

func notify(fn ChangeFunc, changes ...Change) {
	if fn == nil {
		return
	}
	for _, c := range changes {
		fn(c)
	}
}
