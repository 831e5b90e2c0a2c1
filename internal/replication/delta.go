package replication

import (
	"fmt"

	"github.com/Learath2/libtw2/internal/snap"
)

// PeerID identifies a connected peer.
type PeerID string

// WireDelta is the record handed to the transport for one peer and tick. A
// full delta is computed against the empty snapshot and carries no base.
type WireDelta struct {
	Full     bool
	From     snap.Tick
	To       snap.Tick
	Checksum uint32
	Delta    snap.Delta
}

func (w WireDelta) String() string {
	if w.Full {
		return fmt.Sprintf("full->%d (%d entries)", w.To, w.Delta.Len())
	}
	return fmt.Sprintf("%d->%d (%d entries)", w.From, w.To, w.Delta.Len())
}

// ReceivedDelta is a snapshot reconstructed by the receiver.
type ReceivedDelta struct {
	Snap     snap.Snap
	Tick     snap.Tick
	BaseTick snap.Tick
	Full     bool
}
