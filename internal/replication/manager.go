package replication

import (
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Learath2/libtw2/internal/journal"
	"github.com/Learath2/libtw2/internal/snap"
)

// ManagerConfig tunes the server-side delta driver.
type ManagerConfig struct {
	// HistoryTicks bounds how far a peer's acknowledgement may trail the
	// current tick before the peer is pushed back onto full snapshots and
	// the history behind it is released. Zero keeps every referenced tick.
	HistoryTicks int
}

// DefaultManagerConfig returns the tuning used by the server.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{HistoryTicks: 150}
}

// PeerStats summarises the synchronisation state of one peer.
type PeerStats struct {
	Peer       PeerID    `json:"peer"`
	Acked      snap.Tick `json:"acked"`
	HasAck     bool      `json:"hasAck"`
	InFlight   snap.Tick `json:"inFlight"`
	DeltasSent uint64    `json:"deltasSent"`
	FullSent   uint64    `json:"fullSent"`
	LagResets  uint64    `json:"lagResets"`
}

// Manager builds per-peer deltas against the snapshot each peer last
// acknowledged. Each peer owns an isolated slot; work for different peers
// never touches shared mutable state besides the read-mostly history.
type Manager struct {
	storage *journal.Storage
	config  ManagerConfig
	peers   *xsync.MapOf[PeerID, *peerState]
}

type peerState struct {
	mu sync.Mutex

	acked    snap.Tick
	hasAck   bool
	inFlight snap.Tick
	hasSent  bool

	// pendingFrom is the oldest tick sent since the last reset; the peer may
	// still acknowledge anything from there on.
	pendingFrom snap.Tick
	hasPending  bool

	// acks at or below resetAt predate a forced full snapshot and are
	// ignored so they cannot revive a base the peer has abandoned.
	resetAt  snap.Tick
	hasReset bool

	deltasSent uint64
	fullSent   uint64
	lagResets  uint64
}

// NewManager constructs a manager reading snapshots from storage.
func NewManager(storage *journal.Storage, cfg ManagerConfig) *Manager {
	if cfg.HistoryTicks < 0 {
		cfg.HistoryTicks = 0
	}
	return &Manager{
		storage: storage,
		config:  cfg,
		peers:   xsync.NewMapOf[PeerID, *peerState](),
	}
}

// Connect creates the synchronisation slot for a peer. The first delta sent
// to a new peer is always full.
func (m *Manager) Connect(peer PeerID) error {
	if _, loaded := m.peers.LoadOrStore(peer, &peerState{}); loaded {
		return &PeerError{Peer: peer, Err: ErrPeerExists}
	}
	return nil
}

// Disconnect destroys the peer's slot. Deltas already handed to the transport
// are not recalled.
func (m *Manager) Disconnect(peer PeerID) error {
	if _, ok := m.peers.LoadAndDelete(peer); !ok {
		return &PeerError{Peer: peer, Err: ErrUnknownPeer}
	}
	return nil
}

func (m *Manager) slot(peer PeerID) (*peerState, error) {
	st, ok := m.peers.Load(peer)
	if !ok {
		return nil, &PeerError{Peer: peer, Err: ErrUnknownPeer}
	}
	return st, nil
}

// Tick builds the delta bringing peer to the snapshot stored at tick to. The
// base is the peer's last acknowledged snapshot when the history still holds
// it, otherwise the empty snapshot, which makes the delta a full one.
func (m *Manager) Tick(peer PeerID, to snap.Tick) (WireDelta, error) {
	st, err := m.slot(peer)
	if err != nil {
		return WireDelta{}, err
	}
	target, ok := m.storage.Get(to)
	if !ok {
		return WireDelta{}, fmt.Errorf("%w: %d", ErrTickNotStored, to)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.hasSent && to <= st.inFlight {
		return WireDelta{}, &journal.MonotonicityError{Tick: to, Newest: st.inFlight}
	}

	out := WireDelta{Full: true, To: to, Checksum: target.Checksum()}
	base := snap.Empty
	if st.hasAck {
		if stored, ok := m.storage.Get(st.acked); ok {
			base = stored
			out.Full = false
			out.From = st.acked
		}
	}
	out.Delta = snap.Diff(base, target)

	st.inFlight = to
	st.hasSent = true
	if !st.hasPending {
		st.pendingFrom = to
		st.hasPending = true
	}
	st.deltasSent++
	if out.Full {
		st.fullSent++
	}
	return out, nil
}

// OnAck records that peer received tick. Only newer acknowledgements move the
// reference forward; stale ones are ignored and reported as not advanced.
func (m *Manager) OnAck(peer PeerID, tick snap.Tick) (bool, error) {
	st, err := m.slot(peer)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.hasSent || tick > st.inFlight {
		return false, &PeerError{Peer: peer, Err: fmt.Errorf("%w: %d", ErrAckAhead, tick)}
	}
	if st.hasReset && tick <= st.resetAt {
		return false, nil
	}
	if st.hasAck && tick <= st.acked {
		return false, nil
	}
	st.acked = tick
	st.hasAck = true
	return true, nil
}

// LastAck returns the newest tick the peer acknowledged.
func (m *Manager) LastAck(peer PeerID) (snap.Tick, bool, error) {
	st, err := m.slot(peer)
	if err != nil {
		return 0, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.acked, st.hasAck, nil
}

// RequestFull drops the peer's reference so the next delta is full. It serves
// resynchronisation requests from the peer.
func (m *Manager) RequestFull(peer PeerID) error {
	st, err := m.slot(peer)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.resetLocked()
	return nil
}

func (st *peerState) resetLocked() {
	st.hasAck = false
	st.acked = 0
	st.hasPending = false
	if st.hasSent {
		st.resetAt = st.inFlight
		st.hasReset = true
	}
}

// RetainResult reports what one retention pass changed.
type RetainResult struct {
	Evicted []journal.Eviction
	Reset   []PeerID
}

// Retain applies the retention policy for the current tick and trims the
// history. Peers whose acknowledgement trails by more than HistoryTicks lose
// their reference and will receive a full snapshot. Every acknowledged tick
// still referenced afterwards is kept, as are ticks in flight to peers that
// have not acknowledged anything yet, within the HistoryTicks window.
func (m *Manager) Retain(current snap.Tick) RetainResult {
	var res RetainResult
	var floor snap.Tick
	if n := snap.Tick(m.config.HistoryTicks); n > 0 && current > n {
		floor = current - n
	}
	minRef := current
	m.peers.Range(func(id PeerID, st *peerState) bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.hasAck && st.acked < floor {
			st.resetLocked()
			st.lagResets++
			res.Reset = append(res.Reset, id)
		}
		switch {
		case st.hasAck:
			if st.acked < minRef {
				minRef = st.acked
			}
		case st.hasPending:
			if st.pendingFrom < minRef {
				minRef = st.pendingFrom
			}
		}
		return true
	})
	if minRef < floor {
		minRef = floor
	}
	res.Evicted = m.storage.Trim(minRef)
	return res
}

// Stats returns the synchronisation summary for a peer.
func (m *Manager) Stats(peer PeerID) (PeerStats, error) {
	st, err := m.slot(peer)
	if err != nil {
		return PeerStats{}, err
	}
	return st.stats(peer), nil
}

// AllStats returns the summary of every connected peer ordered by id.
func (m *Manager) AllStats() []PeerStats {
	out := make([]PeerStats, 0, m.peers.Size())
	m.peers.Range(func(id PeerID, st *peerState) bool {
		out = append(out, st.stats(id))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (st *peerState) stats(id PeerID) PeerStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return PeerStats{
		Peer:       id,
		Acked:      st.acked,
		HasAck:     st.hasAck,
		InFlight:   st.inFlight,
		DeltasSent: st.deltasSent,
		FullSent:   st.fullSent,
		LagResets:  st.lagResets,
	}
}

// Peers returns the ids of all connected peers.
func (m *Manager) Peers() []PeerID {
	ids := make([]PeerID, 0, m.peers.Size())
	m.peers.Range(func(id PeerID, _ *peerState) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of connected peers.
func (m *Manager) Len() int {
	return m.peers.Size()
}
