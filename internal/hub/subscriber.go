package hub

import (
	"sync"
	"sync/atomic"

	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/snap"
)

// Frame is one encoded delta queued for a peer.
type Frame struct {
	Tick snap.Tick
	Full bool
	Data []byte
}

// Subscriber is the hub side of one connected peer. The tick loop pushes
// frames into its outbox; the transport drains them.
type Subscriber struct {
	id      replication.PeerID
	outbox  chan Frame
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func newSubscriber(id replication.PeerID, size int) *Subscriber {
	return &Subscriber{
		id:     id,
		outbox: make(chan Frame, size),
		done:   make(chan struct{}),
	}
}

// ID returns the peer id assigned on subscribe.
func (s *Subscriber) ID() replication.PeerID {
	return s.id
}

// Outbox yields frames in tick order.
func (s *Subscriber) Outbox() <-chan Frame {
	return s.outbox
}

// Done is closed when the hub releases the subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Dropped counts frames discarded because the outbox was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// offer queues f without blocking. The outbox channel is never closed, so a
// concurrent release cannot make this panic.
func (s *Subscriber) offer(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbox <- f:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) release() {
	s.once.Do(func() { close(s.done) })
}
