package ws

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Learath2/libtw2/internal/hub"
	"github.com/Learath2/libtw2/internal/net/proto"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/snap"
	"github.com/Learath2/libtw2/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingInterval   = 10 * time.Second
	maxControlSize = 1 << 12
)

// Hub is the replication surface a session drives.
type Hub interface {
	Subscribe(ctx context.Context) (*hub.Subscriber, error)
	Unsubscribe(ctx context.Context, peer replication.PeerID, reason string) error
	RecordAck(ctx context.Context, peer replication.PeerID, tick snap.Tick) error
	RequestFull(ctx context.Context, peer replication.PeerID, reason string) error
	TickRate() int
}

type HandlerConfig struct {
	Logger telemetry.Logger
}

// Handler upgrades HTTP requests into replication sessions.
type Handler struct {
	hub      Hub
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(h Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(func(string, ...any) {})
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      h,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle runs one session until either side closes it.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sub, err := h.hub.Subscribe(ctx)
	if err != nil {
		h.logger.Printf("subscribe failed for %s: %v", r.RemoteAddr, err)
		message := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		return
	}
	peer := sub.ID()

	hello, err := proto.EncodeHello(string(peer), h.hub.TickRate())
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, hello)
	}
	if err != nil {
		h.logger.Printf("greeting %s failed: %v", peer, err)
		h.disconnect(peer, "write_failed")
		return
	}

	s := newSession(conn, sub, h.logger)
	go s.writeLoop()

	reason := h.readLoop(ctx, conn, peer)
	s.stop()
	h.disconnect(peer, reason)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, peer replication.PeerID) string {
	conn.SetReadLimit(maxControlSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "closed"
			}
			return "read_failed"
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			h.logger.Printf("discarding non-text message from %s", peer)
			continue
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", peer, err)
			continue
		}

		switch msg.Type {
		case proto.TypeAck:
			err = h.hub.RecordAck(ctx, peer, snap.Tick(*msg.Ack))
			if errors.Is(err, replication.ErrAckAhead) {
				h.logger.Printf("peer %s acknowledged unsent tick %d", peer, *msg.Ack)
				continue
			}
		case proto.TypeResync:
			err = h.hub.RequestFull(ctx, peer, msg.Reason)
		}
		if errors.Is(err, replication.ErrUnknownPeer) {
			return "released"
		}
		if err != nil {
			h.logger.Printf("handling %s from %s: %v", msg.Type, peer, err)
		}
	}
}

func (h *Handler) disconnect(peer replication.PeerID, reason string) {
	// The request context is already cancelled once the connection is gone.
	err := h.hub.Unsubscribe(context.Background(), peer, reason)
	if err != nil && !errors.Is(err, replication.ErrUnknownPeer) {
		h.logger.Printf("unsubscribe %s: %v", peer, err)
	}
}
