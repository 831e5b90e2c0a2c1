package snap

import "fmt"

// ItemKey identifies an item inside a snapshot. Keys order by type first and
// instance id second.
type ItemKey struct {
	Type uint16
	ID   uint16
}

// Compare returns -1, 0 or 1 depending on how k orders relative to other.
func (k ItemKey) Compare(other ItemKey) int {
	switch {
	case k.Type < other.Type:
		return -1
	case k.Type > other.Type:
		return 1
	case k.ID < other.ID:
		return -1
	case k.ID > other.ID:
		return 1
	default:
		return 0
	}
}

// Less reports whether k sorts before other.
func (k ItemKey) Less(other ItemKey) bool {
	return k.Compare(other) < 0
}

// Packed folds the key into the single integer used on the wire. The packed
// form preserves the key order.
func (k ItemKey) Packed() uint32 {
	return uint32(k.Type)<<16 | uint32(k.ID)
}

// UnpackKey reverses Packed.
func UnpackKey(v uint32) ItemKey {
	return ItemKey{Type: uint16(v >> 16), ID: uint16(v)}
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%d:%d", k.Type, k.ID)
}

// Item is one keyed record of fixed-arity data words.
type Item struct {
	Key  ItemKey
	Data []int32
}

// Clone returns a copy of the item that does not share its data words.
func (it Item) Clone() Item {
	cloned := Item{Key: it.Key}
	if it.Data != nil {
		cloned.Data = append(make([]int32, 0, len(it.Data)), it.Data...)
	}
	return cloned
}

func equalWords(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
