package proto

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/snap"
)

// DeltaVersion tracks the binary delta record layout.
const DeltaVersion = 1

const flagFull = 1 << 0

var errTruncated = errors.New("truncated record")

// EncodeDelta renders a wire delta as a binary record. Every integer is a
// varint; data words and word differences are zig-zag encoded.
func EncodeDelta(w replication.WireDelta) []byte {
	d := w.Delta
	size := 16 + 6*d.Len()
	for _, it := range d.Added {
		size += 2 * len(it.Data)
	}
	for _, it := range d.Updated {
		size += 2 * len(it.Data)
	}
	b := make([]byte, 0, size)

	b = protowire.AppendVarint(b, DeltaVersion)
	var flags uint64
	if w.Full {
		flags |= flagFull
	}
	b = protowire.AppendVarint(b, flags)
	if !w.Full {
		b = protowire.AppendVarint(b, uint64(w.From))
	}
	b = protowire.AppendVarint(b, uint64(w.To))
	b = protowire.AppendVarint(b, uint64(w.Checksum))

	b = protowire.AppendVarint(b, uint64(len(d.Added)))
	for _, it := range d.Added {
		b = appendItem(b, it)
	}
	b = protowire.AppendVarint(b, uint64(len(d.Removed)))
	for _, key := range d.Removed {
		b = protowire.AppendVarint(b, uint64(key.Packed()))
	}
	b = protowire.AppendVarint(b, uint64(len(d.Updated)))
	for _, it := range d.Updated {
		b = appendItem(b, it)
	}
	return b
}

func appendItem(b []byte, it snap.Item) []byte {
	b = protowire.AppendVarint(b, uint64(it.Key.Packed()))
	b = protowire.AppendVarint(b, uint64(len(it.Data)))
	for _, w := range it.Data {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(w)))
	}
	return b
}

// DecodeDelta parses a binary delta record. Malformed input is reported as an
// inconsistent delta so the receiver treats it like any other unusable delta.
func DecodeDelta(b []byte) (replication.WireDelta, error) {
	r := reader{buf: b}
	var w replication.WireDelta

	version, err := r.varint("version", math.MaxUint32)
	if err != nil {
		return w, err
	}
	if version != DeltaVersion {
		return w, decodeErr("version", fmt.Errorf("unsupported version %d", version))
	}
	flags, err := r.varint("flags", math.MaxUint8)
	if err != nil {
		return w, err
	}
	if flags&^flagFull != 0 {
		return w, decodeErr("flags", fmt.Errorf("unknown flags %#x", flags))
	}
	w.Full = flags&flagFull != 0
	if !w.Full {
		from, err := r.varint("from_tick", math.MaxUint32)
		if err != nil {
			return w, err
		}
		w.From = snap.Tick(from)
	}
	to, err := r.varint("to_tick", math.MaxUint32)
	if err != nil {
		return w, err
	}
	w.To = snap.Tick(to)
	sum, err := r.varint("checksum", math.MaxUint32)
	if err != nil {
		return w, err
	}
	w.Checksum = uint32(sum)

	if w.Delta.Added, err = r.items("added"); err != nil {
		return w, err
	}
	removed, err := r.count("removed_count")
	if err != nil {
		return w, err
	}
	if removed > 0 {
		w.Delta.Removed = make([]snap.ItemKey, removed)
		for i := range w.Delta.Removed {
			key, err := r.varint("removed_key", math.MaxUint32)
			if err != nil {
				return w, err
			}
			w.Delta.Removed[i] = snap.UnpackKey(uint32(key))
		}
	}
	if w.Delta.Updated, err = r.items("updated"); err != nil {
		return w, err
	}
	if len(r.buf) != 0 {
		return w, decodeErr("trailer", fmt.Errorf("%d unexpected bytes", len(r.buf)))
	}
	return w, nil
}

type reader struct {
	buf []byte
}

func (r *reader) varint(field string, limit uint64) (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		return 0, decodeErr(field, protowire.ParseError(n))
	}
	r.buf = r.buf[n:]
	if v > limit {
		return 0, decodeErr(field, fmt.Errorf("value %d out of range", v))
	}
	return v, nil
}

// count reads a list length. Every entry takes at least one byte, so a
// count larger than what is left cannot be honest and is rejected before
// anything is allocated.
func (r *reader) count(field string) (int, error) {
	v, err := r.varint(field, math.MaxUint32)
	if err != nil {
		return 0, err
	}
	if v > uint64(len(r.buf)) {
		return 0, decodeErr(field, errTruncated)
	}
	return int(v), nil
}

func (r *reader) items(field string) ([]snap.Item, error) {
	n, err := r.count(field + "_count")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	items := make([]snap.Item, n)
	for i := range items {
		key, err := r.varint(field+"_key", math.MaxUint32)
		if err != nil {
			return nil, err
		}
		words, err := r.count(field + "_words")
		if err != nil {
			return nil, err
		}
		data := make([]int32, words)
		for j := range data {
			raw, err := r.varint(field+"_word", math.MaxUint64)
			if err != nil {
				return nil, err
			}
			v := protowire.DecodeZigZag(raw)
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, decodeErr(field+"_word", fmt.Errorf("word %d out of range", v))
			}
			data[j] = int32(v)
		}
		items[i] = snap.Item{Key: snap.UnpackKey(uint32(key)), Data: data}
	}
	return items, nil
}

func decodeErr(field string, err error) error {
	return fmt.Errorf("%w: decode %s: %v", snap.ErrInconsistentDelta, field, err)
}
