// Package hub drives the server side of snapshot replication: it steps the
// world once per tick, records the snapshot in history and hands every
// subscriber the delta against the snapshot it last acknowledged.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Learath2/libtw2/internal/journal"
	"github.com/Learath2/libtw2/internal/net/proto"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/sim"
	"github.com/Learath2/libtw2/internal/snap"
	"github.com/Learath2/libtw2/internal/telemetry"
	"github.com/Learath2/libtw2/logging"
	loggingnetwork "github.com/Learath2/libtw2/logging/network"
)

// Config tunes the tick loop.
type Config struct {
	TickRate     int
	HistoryTicks int
	OutboxSize   int
	World        sim.Config

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// DefaultConfig returns the tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickRate:     30,
		HistoryTicks: replication.DefaultManagerConfig().HistoryTicks,
		OutboxSize:   64,
		World:        sim.DefaultConfig(),
	}
}

// Hub owns the world, the snapshot history and the per-peer replication
// state.
type Hub struct {
	config    Config
	world     *sim.World
	storage   *journal.Storage
	manager   *replication.Manager
	subs      *xsync.MapOf[replication.PeerID, *Subscriber]
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics

	tick atomic.Uint32
}

// New constructs a hub. A nil publisher discards events.
func New(cfg Config, pub logging.Publisher) *Hub {
	defaults := DefaultConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaults.TickRate
	}
	if cfg.HistoryTicks < 0 {
		cfg.HistoryTicks = 0
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaults.OutboxSize
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	// Every tick is inserted before Retain runs, so the history holds at
	// most HistoryTicks+1 snapshots once trimmed.
	storage := journal.New(cfg.HistoryTicks + 2)
	return &Hub{
		config:    cfg,
		world:     sim.NewWorld(cfg.World),
		storage:   storage,
		manager:   replication.NewManager(storage, replication.ManagerConfig{HistoryTicks: cfg.HistoryTicks}),
		subs:      xsync.NewMapOf[replication.PeerID, *Subscriber](),
		publisher: pub,
		logger:    logger,
		metrics:   metrics,
	}
}

// TickRate returns the configured ticks per second.
func (h *Hub) TickRate() int {
	return h.config.TickRate
}

// Tick returns the newest tick produced.
func (h *Hub) Tick() snap.Tick {
	return snap.Tick(h.tick.Load())
}

// Storage exposes the snapshot history for metrics collection.
func (h *Hub) Storage() *journal.Storage {
	return h.storage
}

// Manager exposes the replication state for diagnostics.
func (h *Hub) Manager() *replication.Manager {
	return h.manager
}

// Subscribe registers a new peer. Its first frame is a full snapshot.
func (h *Hub) Subscribe(ctx context.Context) (*Subscriber, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate peer id: %w", err)
	}
	peer := replication.PeerID(id.String())
	if err := h.manager.Connect(peer); err != nil {
		return nil, err
	}
	sub := newSubscriber(peer, h.config.OutboxSize)
	h.subs.Store(peer, sub)
	loggingnetwork.PeerConnected(ctx, h.publisher, uint64(h.Tick()), logging.PeerRef(string(peer)), nil)
	return sub, nil
}

// Unsubscribe releases a peer. Calling it twice reports ErrUnknownPeer.
func (h *Hub) Unsubscribe(ctx context.Context, peer replication.PeerID, reason string) error {
	sub, ok := h.subs.LoadAndDelete(peer)
	if ok {
		sub.release()
	}
	if err := h.manager.Disconnect(peer); err != nil {
		return err
	}
	loggingnetwork.PeerDisconnected(ctx, h.publisher, uint64(h.Tick()), logging.PeerRef(string(peer)), loggingnetwork.DisconnectPayload{Reason: reason}, nil)
	return nil
}

// RecordAck forwards an acknowledgement to the manager.
func (h *Hub) RecordAck(ctx context.Context, peer replication.PeerID, tick snap.Tick) error {
	previous, _, err := h.manager.LastAck(peer)
	if err != nil {
		return err
	}
	advanced, err := h.manager.OnAck(peer, tick)
	if err != nil {
		return err
	}
	h.metrics.AckReceived(advanced)
	payload := loggingnetwork.AckPayload{Previous: uint64(previous), Ack: uint64(tick)}
	if advanced {
		loggingnetwork.AckAdvanced(ctx, h.publisher, uint64(tick), logging.PeerRef(string(peer)), payload, nil)
	} else {
		loggingnetwork.AckRegression(ctx, h.publisher, uint64(tick), logging.PeerRef(string(peer)), payload, nil)
	}
	return nil
}

// RequestFull schedules a full snapshot for a peer that lost sync.
func (h *Hub) RequestFull(ctx context.Context, peer replication.PeerID, reason string) error {
	if err := h.manager.RequestFull(peer); err != nil {
		return err
	}
	h.metrics.ResyncRequested(reason)
	loggingnetwork.ResyncRequested(ctx, h.publisher, uint64(h.Tick()), logging.PeerRef(string(peer)), loggingnetwork.ResyncPayload{Reason: reason}, nil)
	return nil
}

// Step advances the world by one tick and fans the result out. An error
// means the history rejected the tick, which only a bug can cause.
func (h *Hub) Step(ctx context.Context) error {
	started := time.Now()
	h.world.Step()
	tick := h.world.Tick()
	if err := h.storage.Insert(tick, h.world.Snapshot()); err != nil {
		return fmt.Errorf("record tick %d: %w", tick, err)
	}
	h.tick.Store(uint32(tick))

	h.subs.Range(func(_ replication.PeerID, sub *Subscriber) bool {
		h.send(ctx, tick, sub)
		return true
	})

	res := h.manager.Retain(tick)
	if n := len(res.Reset); n > 0 {
		h.metrics.PeerResets(n)
		h.logger.Printf("tick %d: %d peers fell behind history and will receive a full snapshot", tick, n)
	}
	if n := len(res.Evicted); n > 0 {
		h.metrics.HistoryEvicted(n)
		ticks := make([]uint64, n)
		for i, ev := range res.Evicted {
			ticks[i] = uint64(ev.Tick)
		}
		loggingnetwork.HistoryEvicted(ctx, h.publisher, uint64(tick), loggingnetwork.EvictionPayload{Ticks: ticks, Reason: res.Evicted[0].Reason}, nil)
	}
	h.metrics.TickDuration(time.Since(started))
	return nil
}

func (h *Hub) send(ctx context.Context, tick snap.Tick, sub *Subscriber) {
	peer := sub.ID()
	_, hadAck, _ := h.manager.LastAck(peer)
	w, err := h.manager.Tick(peer, tick)
	if err != nil {
		// Unsubscribe raced with this tick.
		if !errors.Is(err, replication.ErrUnknownPeer) {
			h.logger.Printf("tick %d: build delta for %s: %v", tick, peer, err)
		}
		return
	}
	data := proto.EncodeDelta(w)
	ref := logging.PeerRef(string(peer))
	if !sub.offer(Frame{Tick: tick, Full: w.Full, Data: data}) {
		h.metrics.SendDropped()
		loggingnetwork.SendDropped(ctx, h.publisher, uint64(tick), ref, nil)
		return
	}
	h.metrics.DeltaSent(w.Full, len(data))
	if w.Full {
		reason := "no_base"
		if hadAck {
			reason = "base_evicted"
		}
		loggingnetwork.FullResend(ctx, h.publisher, uint64(tick), ref, loggingnetwork.FullPayload{Items: len(w.Delta.Added), Bytes: len(data), Reason: reason}, nil)
		return
	}
	loggingnetwork.DeltaSent(ctx, h.publisher, uint64(tick), ref, loggingnetwork.DeltaPayload{
		From:    uint64(w.From),
		To:      uint64(w.To),
		Added:   len(w.Delta.Added),
		Removed: len(w.Delta.Removed),
		Updated: len(w.Delta.Updated),
		Bytes:   len(data),
	}, nil)
}

// RunSimulation steps the world at the configured rate until ctx is done.
// It returns nil on cancellation and the step error otherwise.
func (h *Hub) RunSimulation(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(h.config.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Close releases every subscriber.
func (h *Hub) Close(ctx context.Context) {
	for _, peer := range h.manager.Peers() {
		_ = h.Unsubscribe(ctx, peer, "shutdown")
	}
}
