package replication

import (
	"errors"
	"fmt"

	"github.com/Learath2/libtw2/internal/journal"
	"github.com/Learath2/libtw2/internal/snap"
)

var (
	// ErrUnknownPeer is returned for operations on a peer that has no slot,
	// typically because it disconnected concurrently.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrPeerExists is returned when connecting a peer twice.
	ErrPeerExists = errors.New("peer already connected")
	// ErrTickNotStored is returned when asked to send a tick the history no
	// longer (or never) held.
	ErrTickNotStored = errors.New("tick not stored")
	// ErrAckAhead is returned for acknowledgements of ticks never sent.
	ErrAckAhead = errors.New("ack for unsent tick")
	// ErrResyncRequired signals the receiver cannot use a delta and needs a
	// fresh full snapshot.
	ErrResyncRequired = errors.New("resync required")
	// ErrStaleDelta marks a full delta older than the snapshot already held.
	ErrStaleDelta = errors.New("stale delta")
	// ErrMonotonicityViolation is shared with the history buffer.
	ErrMonotonicityViolation = journal.ErrMonotonicityViolation
)

// PeerError attaches the peer identity to a lookup failure.
type PeerError struct {
	Peer PeerID
	Err  error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// Resync reasons reported by the receiver.
const (
	ResyncNoBase       = "no_base"
	ResyncBaseMismatch = "base_mismatch"
	ResyncApplyFailed  = "apply_failed"
)

// ResyncRequiredError explains why a delta could not be used.
type ResyncRequiredError struct {
	Reason   string
	BaseTick snap.Tick
	HasBase  bool
	From     snap.Tick
	To       snap.Tick
	Cause    error
}

func (e *ResyncRequiredError) Error() string {
	msg := fmt.Sprintf("resync required (%s): delta %d->%d", e.Reason, e.From, e.To)
	if e.HasBase {
		msg += fmt.Sprintf(", base %d", e.BaseTick)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is lets errors.Is match ErrResyncRequired while Unwrap still exposes the
// underlying cause.
func (e *ResyncRequiredError) Is(target error) bool {
	return target == ErrResyncRequired
}

func (e *ResyncRequiredError) Unwrap() error {
	return e.Cause
}
