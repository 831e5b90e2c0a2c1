package snap

import (
	"errors"
	"testing"
)

func TestBuilderSortsItems(t *testing.T) {
	b := NewBuilder(0)
	for _, k := range []ItemKey{{Type: 2, ID: 1}, {Type: 1, ID: 9}, {Type: 1, ID: 2}} {
		if err := b.Add(k, []int32{int32(k.ID)}); err != nil {
			t.Fatalf("add %s: %v", k, err)
		}
	}
	s := b.Build()

	want := []ItemKey{{Type: 1, ID: 2}, {Type: 1, ID: 9}, {Type: 2, ID: 1}}
	got := s.Keys()
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if b.Len() != 0 {
		t.Fatalf("expected builder to reset after Build, got %d items", b.Len())
	}
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	b := NewBuilder(2)
	if err := b.Add(ItemKey{Type: 1, ID: 1}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Add(ItemKey{Type: 1, ID: 1}, []int32{1})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestSnapCopiesInput(t *testing.T) {
	data := []int32{1, 2}
	s, err := New(Item{Key: ItemKey{Type: 1, ID: 1}, Data: data})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	data[0] = 100

	it, ok := s.Get(ItemKey{Type: 1, ID: 1})
	if !ok {
		t.Fatalf("expected item to be present")
	}
	if it.Data[0] != 1 {
		t.Fatalf("expected snapshot to own its words, got %d", it.Data[0])
	}

	items := s.Items()
	items[0].Data[1] = 50
	if again, _ := s.Get(ItemKey{Type: 1, ID: 1}); again.Data[1] != 2 {
		t.Fatalf("expected Items to return a deep copy, got %d", again.Data[1])
	}
}

func TestSnapGetMissing(t *testing.T) {
	s := MustNew(Item{Key: ItemKey{Type: 1, ID: 1}})
	if _, ok := s.Get(ItemKey{Type: 1, ID: 2}); ok {
		t.Fatalf("expected lookup of absent key to fail")
	}
	if _, ok := Empty.Get(ItemKey{}); ok {
		t.Fatalf("expected lookup on empty snapshot to fail")
	}
}

func TestChecksumTracksContents(t *testing.T) {
	a := MustNew(Item{Key: ItemKey{Type: 1, ID: 1}, Data: []int32{1, 2}})
	b := MustNew(Item{Key: ItemKey{Type: 1, ID: 1}, Data: []int32{1, 2}})
	c := MustNew(Item{Key: ItemKey{Type: 1, ID: 1}, Data: []int32{1, 3}})
	d := MustNew(Item{Key: ItemKey{Type: 1, ID: 2}, Data: []int32{1, 2}})

	if a.Checksum() != b.Checksum() {
		t.Fatalf("expected equal snapshots to share a checksum")
	}
	if a.Checksum() == c.Checksum() {
		t.Fatalf("expected data change to alter checksum")
	}
	if a.Checksum() == d.Checksum() {
		t.Fatalf("expected key change to alter checksum")
	}
}

func TestKeyPackingPreservesOrder(t *testing.T) {
	keys := []ItemKey{{Type: 0, ID: 65535}, {Type: 1, ID: 0}, {Type: 1, ID: 1}, {Type: 65535, ID: 0}}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Packed() >= keys[i].Packed() {
			t.Fatalf("packed order broken between %s and %s", keys[i-1], keys[i])
		}
		if UnpackKey(keys[i].Packed()) != keys[i] {
			t.Fatalf("unpack mismatch for %s", keys[i])
		}
	}
}
