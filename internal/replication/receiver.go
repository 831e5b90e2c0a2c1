package replication

import (
	"fmt"

	"github.com/Learath2/libtw2/internal/snap"
)

// ReceiverState enumerates the receiver state machine.
type ReceiverState int

const (
	// AwaitingFull is the initial state: no base snapshot is held.
	AwaitingFull ReceiverState = iota
	// Synced holds the most recently reconstructed snapshot as the base.
	Synced
)

func (s ReceiverState) String() string {
	switch s {
	case AwaitingFull:
		return "awaiting_full"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// BaseSource resolves snapshots the caller retained from earlier
// reconstructions.
type BaseSource interface {
	Get(tick snap.Tick) (snap.Snap, bool)
}

// ReceiverConfig configures a DeltaReceiver.
type ReceiverConfig struct {
	// Schema validates item arity of incoming items. Optional.
	Schema snap.Schema
	// History lets deltas build on a snapshot the caller committed earlier
	// when it is not the receiver's current base. Without it only the
	// current base is usable.
	History BaseSource
}

// DeltaReceiver reconstructs snapshots from wire deltas on the client side.
// It keeps a single base snapshot; it is not safe for concurrent use.
type DeltaReceiver struct {
	cfg      ReceiverConfig
	state    ReceiverState
	baseTick snap.Tick
	base     snap.Snap
}

// NewDeltaReceiver returns a receiver in the AwaitingFull state.
func NewDeltaReceiver(cfg ReceiverConfig) *DeltaReceiver {
	return &DeltaReceiver{cfg: cfg}
}

// State returns the current state.
func (r *DeltaReceiver) State() ReceiverState {
	return r.state
}

// BaseTick returns the tick of the held base and whether one is held.
func (r *DeltaReceiver) BaseTick() (snap.Tick, bool) {
	return r.baseTick, r.state == Synced
}

// Base returns the held base snapshot.
func (r *DeltaReceiver) Base() (snap.Snap, bool) {
	return r.base, r.state == Synced
}

// Reset drops the base and returns to AwaitingFull.
func (r *DeltaReceiver) Reset() {
	r.state = AwaitingFull
	r.baseTick = 0
	r.base = snap.Snap{}
}

// OnDelta applies w to the held base. Deltas that cannot be used leave the
// state untouched: full deltas that fail to apply return the inconsistency,
// incremental deltas that do not fit the base return a ResyncRequiredError.
func (r *DeltaReceiver) OnDelta(w WireDelta) (ReceivedDelta, error) {
	if r.state == Synced && w.To <= r.baseTick {
		return ReceivedDelta{}, fmt.Errorf("%w: delta to %d, base %d", ErrStaleDelta, w.To, r.baseTick)
	}

	if w.Full {
		next, err := r.reconstruct(snap.Empty, w)
		if err != nil {
			return ReceivedDelta{}, err
		}
		r.commit(w.To, next)
		return ReceivedDelta{Snap: next, Tick: w.To, Full: true}, nil
	}

	base, reason, ok := r.resolveBase(w.From)
	if !ok {
		return ReceivedDelta{}, r.resync(reason, w, nil)
	}
	if w.To <= w.From {
		return ReceivedDelta{}, r.resync(ResyncApplyFailed, w, fmt.Errorf("%w: delta does not advance", snap.ErrInconsistentDelta))
	}
	next, err := r.reconstruct(base, w)
	if err != nil {
		return ReceivedDelta{}, r.resync(ResyncApplyFailed, w, err)
	}
	r.commit(w.To, next)
	return ReceivedDelta{Snap: next, Tick: w.To, BaseTick: w.From}, nil
}

func (r *DeltaReceiver) resolveBase(from snap.Tick) (snap.Snap, string, bool) {
	if r.state != Synced {
		return snap.Snap{}, ResyncNoBase, false
	}
	if from == r.baseTick {
		return r.base, "", true
	}
	if r.cfg.History != nil {
		if stored, ok := r.cfg.History.Get(from); ok {
			return stored, "", true
		}
	}
	return snap.Snap{}, ResyncBaseMismatch, false
}

func (r *DeltaReceiver) reconstruct(base snap.Snap, w WireDelta) (snap.Snap, error) {
	next, err := snap.Apply(base, w.Delta, r.cfg.Schema)
	if err != nil {
		return snap.Snap{}, err
	}
	if sum := next.Checksum(); sum != w.Checksum {
		return snap.Snap{}, fmt.Errorf("%w: checksum %08x, expected %08x", snap.ErrInconsistentDelta, sum, w.Checksum)
	}
	return next, nil
}

func (r *DeltaReceiver) commit(tick snap.Tick, next snap.Snap) {
	r.state = Synced
	r.baseTick = tick
	r.base = next
}

func (r *DeltaReceiver) resync(reason string, w WireDelta, cause error) error {
	return &ResyncRequiredError{
		Reason:   reason,
		BaseTick: r.baseTick,
		HasBase:  r.state == Synced,
		From:     w.From,
		To:       w.To,
		Cause:    cause,
	}
}
