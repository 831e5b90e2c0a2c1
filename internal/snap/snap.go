package snap

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Tick identifies one instant of world state. Ticks increase monotonically.
type Tick uint32

// Snap is an immutable, key-ordered collection of items describing the world
// at one tick. The zero value is the empty snapshot.
type Snap struct {
	items []Item
}

// Empty is the snapshot without items. Deltas computed against it carry the
// full contents of the target snapshot.
var Empty = Snap{}

// New builds a snapshot from the provided items. Items may arrive in any
// order; duplicate keys are rejected.
func New(items ...Item) (Snap, error) {
	b := NewBuilder(len(items))
	for _, it := range items {
		if err := b.Add(it.Key, it.Data); err != nil {
			return Snap{}, err
		}
	}
	return b.Build(), nil
}

// MustNew is New for fixtures whose keys are known to be unique.
func MustNew(items ...Item) Snap {
	s, err := New(items...)
	if err != nil {
		panic(err)
	}
	return s
}

// fromSorted adopts items that are already strictly ascending by key.
func fromSorted(items []Item) Snap {
	if len(items) == 0 {
		return Snap{}
	}
	return Snap{items: items}
}

// Len returns the number of items.
func (s Snap) Len() int {
	return len(s.items)
}

// At returns the i-th item in key order. The returned data words belong to
// the snapshot and must not be modified.
func (s Snap) At(i int) Item {
	return s.items[i]
}

// Get looks up an item by key.
func (s Snap) Get(key ItemKey) (Item, bool) {
	idx := sort.Search(len(s.items), func(i int) bool {
		return !s.items[i].Key.Less(key)
	})
	if idx < len(s.items) && s.items[idx].Key == key {
		return s.items[idx], true
	}
	return Item{}, false
}

// Items returns a deep copy of the snapshot contents in key order.
func (s Snap) Items() []Item {
	if len(s.items) == 0 {
		return nil
	}
	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

// Keys returns the item keys in order.
func (s Snap) Keys() []ItemKey {
	if len(s.items) == 0 {
		return nil
	}
	keys := make([]ItemKey, len(s.items))
	for i, it := range s.items {
		keys[i] = it.Key
	}
	return keys
}

// Words returns the total number of data words across all items.
func (s Snap) Words() int {
	total := 0
	for _, it := range s.items {
		total += len(it.Data)
	}
	return total
}

// Equal reports whether both snapshots hold the same keys with the same data.
func (s Snap) Equal(other Snap) bool {
	if len(s.items) != len(other.items) {
		return false
	}
	for i := range s.items {
		if s.items[i].Key != other.items[i].Key {
			return false
		}
		if !equalWords(s.items[i].Data, other.items[i].Data) {
			return false
		}
	}
	return true
}

// Checksum hashes the canonical form of the snapshot. Two snapshots with the
// same checksum are, for synchronisation purposes, the same state.
func (s Snap) Checksum() uint32 {
	d := xxhash.New()
	var buf [8]byte
	for _, it := range s.items {
		binary.LittleEndian.PutUint32(buf[0:4], it.Key.Packed())
		binary.LittleEndian.PutUint32(buf[4:8], uint32(len(it.Data)))
		d.Write(buf[:8])
		for _, w := range it.Data {
			binary.LittleEndian.PutUint32(buf[0:4], uint32(w))
			d.Write(buf[:4])
		}
	}
	sum := d.Sum64()
	return uint32(sum) ^ uint32(sum>>32)
}

func (s Snap) String() string {
	return fmt.Sprintf("snap(items=%d words=%d)", len(s.items), s.Words())
}

// Builder accumulates items for a new snapshot.
type Builder struct {
	items []Item
	seen  map[ItemKey]struct{}
}

// NewBuilder returns a builder sized for the expected item count.
func NewBuilder(capacity int) *Builder {
	if capacity < 0 {
		capacity = 0
	}
	return &Builder{
		items: make([]Item, 0, capacity),
		seen:  make(map[ItemKey]struct{}, capacity),
	}
}

// Add copies data into the builder under key.
func (b *Builder) Add(key ItemKey, data []int32) error {
	if _, dup := b.seen[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	b.seen[key] = struct{}{}
	b.items = append(b.items, Item{Key: key, Data: append(make([]int32, 0, len(data)), data...)})
	return nil
}

// Len returns the number of items added so far.
func (b *Builder) Len() int {
	return len(b.items)
}

// Build sorts the collected items and returns the snapshot. The builder is
// reset and may be reused.
func (b *Builder) Build() Snap {
	items := b.items
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.Less(items[j].Key)
	})
	b.items = make([]Item, 0, len(items))
	b.seen = make(map[ItemKey]struct{}, len(items))
	return fromSorted(items)
}
