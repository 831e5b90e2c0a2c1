package snap

// Delta is the difference between two snapshots. Each list is sorted by key
// and the three lists never share a key. Updated items carry word-wise
// differences (to - from, wrapping) instead of absolute values.
type Delta struct {
	Added   []Item
	Removed []ItemKey
	Updated []Item
}

// Empty reports whether applying the delta would leave the base unchanged.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Len returns the number of entries across all three lists.
func (d Delta) Len() int {
	return len(d.Added) + len(d.Removed) + len(d.Updated)
}

// Diff computes the delta that turns from into to. Both snapshots are walked
// once in key order, so the result is canonical for any pair of inputs.
func Diff(from, to Snap) Delta {
	var d Delta
	a, b := from.items, to.items
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b):
			d.Removed = append(d.Removed, a[i].Key)
			i++
		case i >= len(a):
			d.Added = append(d.Added, b[j].Clone())
			j++
		default:
			switch a[i].Key.Compare(b[j].Key) {
			case -1:
				d.Removed = append(d.Removed, a[i].Key)
				i++
			case 1:
				d.Added = append(d.Added, b[j].Clone())
				j++
			default:
				if diff, changed := diffWords(a[i].Data, b[j].Data); changed {
					d.Updated = append(d.Updated, Item{Key: b[j].Key, Data: diff})
				}
				i++
				j++
			}
		}
	}
	return d
}

// diffWords returns to-from and whether any word differs. Arity is fixed per
// item type, so a length change is a schema violation upstream; it is still
// reported as a change (against a zero-padded from) and Apply rejects it,
// which pushes the peer onto a full snapshot.
func diffWords(from, to []int32) ([]int32, bool) {
	if len(from) != len(to) {
		out := make([]int32, len(to))
		for i := range to {
			if i < len(from) {
				out[i] = to[i] - from[i]
			} else {
				out[i] = to[i]
			}
		}
		return out, true
	}
	changed := false
	for i := range to {
		if to[i] != from[i] {
			changed = true
			break
		}
	}
	if !changed {
		return nil, false
	}
	out := make([]int32, len(to))
	for i := range to {
		out[i] = to[i] - from[i]
	}
	return out, true
}

// Apply reconstructs the snapshot described by applying d on top of base. The
// delta is never trusted: every key it references is checked against base
// and, when schema is non-nil, every word count against the schema.
func Apply(base Snap, d Delta, schema Schema) (Snap, error) {
	if err := checkOrder(d, schema); err != nil {
		return Snap{}, err
	}

	items := base.items
	size := len(items) + len(d.Added) - len(d.Removed)
	if size < 0 {
		size = 0
	}
	out := make([]Item, 0, size)
	r, u, a := 0, 0, 0

	for _, it := range items {
		key := it.Key
		for a < len(d.Added) && d.Added[a].Key.Less(key) {
			out = append(out, d.Added[a].Clone())
			a++
		}
		if a < len(d.Added) && d.Added[a].Key == key {
			return Snap{}, inconsistent(key, "added item already present in base")
		}
		if r < len(d.Removed) && d.Removed[r].Less(key) {
			return Snap{}, inconsistent(d.Removed[r], "removed item absent from base")
		}
		if u < len(d.Updated) && d.Updated[u].Key.Less(key) {
			return Snap{}, inconsistent(d.Updated[u].Key, "updated item absent from base")
		}

		removed := r < len(d.Removed) && d.Removed[r] == key
		updated := u < len(d.Updated) && d.Updated[u].Key == key
		switch {
		case removed && updated:
			return Snap{}, inconsistent(key, "item both removed and updated")
		case removed:
			r++
		case updated:
			diff := d.Updated[u].Data
			if len(diff) != len(it.Data) {
				return Snap{}, inconsistent(key, "update carries %d words, base item has %d", len(diff), len(it.Data))
			}
			data := make([]int32, len(diff))
			for w := range diff {
				data[w] = it.Data[w] + diff[w]
			}
			out = append(out, Item{Key: key, Data: data})
			u++
		default:
			out = append(out, it)
		}
	}

	if r < len(d.Removed) {
		return Snap{}, inconsistent(d.Removed[r], "removed item absent from base")
	}
	if u < len(d.Updated) {
		return Snap{}, inconsistent(d.Updated[u].Key, "updated item absent from base")
	}
	for ; a < len(d.Added); a++ {
		out = append(out, d.Added[a].Clone())
	}
	return fromSorted(out), nil
}

// checkOrder verifies each list is strictly ascending and, with a schema,
// that added and updated items carry the arity of their type.
func checkOrder(d Delta, schema Schema) error {
	for i, it := range d.Added {
		if i > 0 && !d.Added[i-1].Key.Less(it.Key) {
			return inconsistent(it.Key, "added items out of order")
		}
		if err := checkArity(schema, it); err != nil {
			return err
		}
	}
	for i, key := range d.Removed {
		if i > 0 && !d.Removed[i-1].Less(key) {
			return inconsistent(key, "removed keys out of order")
		}
	}
	for i, it := range d.Updated {
		if i > 0 && !d.Updated[i-1].Key.Less(it.Key) {
			return inconsistent(it.Key, "updated items out of order")
		}
		if err := checkArity(schema, it); err != nil {
			return err
		}
	}
	return nil
}

func checkArity(schema Schema, it Item) error {
	if schema == nil {
		return nil
	}
	want, ok := schema.Arity(it.Key.Type)
	if !ok {
		return inconsistent(it.Key, "unknown item type %d", it.Key.Type)
	}
	if want != len(it.Data) {
		return inconsistent(it.Key, "expected %d words, got %d", want, len(it.Data))
	}
	return nil
}
