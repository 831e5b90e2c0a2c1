package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Learath2/libtw2/internal/journal"
	"github.com/Learath2/libtw2/internal/net/proto"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/snap"
	"github.com/Learath2/libtw2/internal/telemetry"
)

// ClientConfig configures a headless replication client.
type ClientConfig struct {
	URL    string
	Schema snap.Schema
	// HistoryTicks bounds the snapshots kept for deltas built on an older
	// acknowledgement. It should match the server's setting.
	HistoryTicks int
	Logger       telemetry.Logger
	// OnSnapshot is called from the read loop for every reconstructed tick.
	OnSnapshot func(replication.ReceivedDelta)
}

// ClientStats counts what the client received.
type ClientStats struct {
	Frames      uint64 `json:"frames"`
	Full        uint64 `json:"full"`
	Incremental uint64 `json:"incremental"`
	Stale       uint64 `json:"stale"`
	Unusable    uint64 `json:"unusable"`
	Resyncs     uint64 `json:"resyncs"`
}

// Client keeps a local copy of the server world in sync over a websocket.
type Client struct {
	cfg      ClientConfig
	conn     *websocket.Conn
	peerID   string
	tickRate int

	receiver *replication.DeltaReceiver
	history  *journal.Storage
	policy   *replication.ResyncPolicy

	writeMu sync.Mutex

	frames      atomic.Uint64
	full        atomic.Uint64
	incremental atomic.Uint64
	stale       atomic.Uint64
	unusable    atomic.Uint64
	resyncs     atomic.Uint64
}

// Dial connects to the server and waits for its greeting.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.LoggerFunc(func(string, ...any) {})
	}
	if cfg.HistoryTicks <= 0 {
		cfg.HistoryTicks = replication.DefaultManagerConfig().HistoryTicks
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	conn.SetReadDeadline(time.Now().Add(writeWait))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	hello, err := proto.DecodeHello(payload)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	history := journal.New(cfg.HistoryTicks + 1)
	return &Client{
		cfg:      cfg,
		conn:     conn,
		peerID:   hello.PeerID,
		tickRate: hello.TickRate,
		receiver: replication.NewDeltaReceiver(replication.ReceiverConfig{Schema: cfg.Schema, History: history}),
		history:  history,
		policy:   replication.NewResyncPolicy(),
	}, nil
}

// PeerID returns the id the server assigned.
func (c *Client) PeerID() string {
	return c.peerID
}

// TickRate returns the server tick rate announced in the greeting.
func (c *Client) TickRate() int {
	return c.tickRate
}

// Stats returns the receive counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Frames:      c.frames.Load(),
		Full:        c.full.Load(),
		Incremental: c.incremental.Load(),
		Stale:       c.stale.Load(),
		Unusable:    c.unusable.Load(),
		Resyncs:     c.resyncs.Load(),
	}
}

// Run reads deltas until ctx is done or the connection fails. It returns nil
// when ctx ends the session.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.writeMu.Lock()
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	defer stop()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if err := c.handleFrame(payload); err != nil {
			return err
		}
	}
}

// handleFrame feeds one binary frame through the receiver. Only transport
// failures are returned; unusable deltas are turned into resync requests.
func (c *Client) handleFrame(payload []byte) error {
	c.frames.Add(1)
	w, err := proto.DecodeDelta(payload)
	if err != nil {
		c.cfg.Logger.Printf("discarding undecodable frame: %v", err)
		return c.noteUnusable(replication.ResyncApplyFailed, 0, 0)
	}

	c.policy.NoteDelta()
	got, err := c.receiver.OnDelta(w)
	var resync *replication.ResyncRequiredError
	switch {
	case err == nil:
	case errors.Is(err, replication.ErrStaleDelta):
		c.stale.Add(1)
		return nil
	case errors.As(err, &resync):
		return c.noteUnusable(resync.Reason, resync.From, resync.To)
	default:
		c.cfg.Logger.Printf("full snapshot %d rejected: %v", w.To, err)
		return c.noteUnusable(replication.ResyncApplyFailed, w.From, w.To)
	}

	if got.Full {
		c.full.Add(1)
		c.policy.NoteFull()
	} else {
		c.incremental.Add(1)
	}
	if err := c.history.Insert(got.Tick, got.Snap); err != nil {
		return fmt.Errorf("record tick %d: %w", got.Tick, err)
	}
	if limit := snap.Tick(c.cfg.HistoryTicks); got.Tick > limit {
		c.history.Trim(got.Tick - limit)
	}
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(got)
	}
	data, err := proto.EncodeAck(got.Tick)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) noteUnusable(kind string, from, to snap.Tick) error {
	c.unusable.Add(1)
	c.policy.NoteResync(kind, from, to)
	signal, ok := c.policy.Consume()
	if !ok {
		return nil
	}
	c.resyncs.Add(1)
	c.cfg.Logger.Printf("requesting full snapshot: %s", signal.Summary())
	data, err := proto.EncodeResync(kind)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close tears down the connection without the closing handshake.
func (c *Client) Close() error {
	return c.conn.Close()
}
