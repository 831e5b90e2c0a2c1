package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Learath2/libtw2/internal/net/proto"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/sim"
	"github.com/Learath2/libtw2/internal/snap"
)

func TestClientStaysInSyncWithHub(t *testing.T) {
	h, srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan replication.ReceivedDelta, 64)
	client, err := Dial(ctx, ClientConfig{
		URL:          websocketURL(t, srv.URL),
		Schema:       sim.Schema(),
		HistoryTicks: 32,
		OnSnapshot:   func(d replication.ReceivedDelta) { received <- d },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	peer := replication.PeerID(client.PeerID())

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	waitFor(t, "peer registration", func() bool { return h.Manager().Len() == 1 })

	for i := 0; i < 20; i++ {
		if err := h.Step(ctx); err != nil {
			t.Fatalf("step: %v", err)
		}
		var got replication.ReceivedDelta
		select {
		case got = <-received:
		case <-time.After(3 * time.Second):
			t.Fatalf("no snapshot for tick %d", h.Tick())
		}
		want, ok := h.Storage().Get(got.Tick)
		if !ok || !got.Snap.Equal(want) {
			t.Fatalf("tick %d: client diverged from server", got.Tick)
		}
		waitFor(t, "ack", func() bool {
			tick, ok, _ := h.Manager().LastAck(peer)
			return ok && tick == got.Tick
		})
	}

	stats := client.Stats()
	if stats.Full != 1 || stats.Incremental != 19 {
		t.Fatalf("expected 1 full and 19 incremental deltas, got %+v", stats)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not stop")
	}
}

// scriptedServer greets the client, sends frames and forwards every text
// message it receives.
func scriptedServer(t *testing.T, frames ...[]byte) (*httptest.Server, <-chan proto.ClientMessage) {
	t.Helper()
	messages := make(chan proto.ClientMessage, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hello, _ := proto.EncodeHello("scripted", 10)
		conn.WriteMessage(websocket.TextMessage, hello)
		for _, frame := range frames {
			conn.WriteMessage(websocket.BinaryMessage, frame)
		}
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := proto.DecodeClientMessage(payload); err == nil {
				messages <- msg
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, messages
}

func TestClientRequestsResyncOnce(t *testing.T) {
	world := snap.MustNew(snap.Item{Key: snap.ItemKey{Type: sim.ItemPickup, ID: 1}, Data: []int32{1, 2, 3}})
	orphan := proto.EncodeDelta(replication.WireDelta{From: 5, To: 6, Checksum: world.Checksum()})
	orphan2 := proto.EncodeDelta(replication.WireDelta{From: 6, To: 7, Checksum: world.Checksum()})
	srv, messages := scriptedServer(t, orphan, orphan2, []byte{0xff})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := Dial(ctx, ClientConfig{URL: websocketURL(t, srv.URL), Schema: sim.Schema()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if client.PeerID() != "scripted" || client.TickRate() != 10 {
		t.Fatalf("unexpected greeting %s/%d", client.PeerID(), client.TickRate())
	}
	go client.Run(ctx)

	select {
	case msg := <-messages:
		if msg.Type != proto.TypeResync || msg.Reason != replication.ResyncNoBase {
			t.Fatalf("expected no_base resync request, got %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not request a resync")
	}

	waitFor(t, "all frames", func() bool { return client.Stats().Frames == 3 })
	stats := client.Stats()
	if stats.Unusable != 3 || stats.Resyncs != 1 {
		t.Fatalf("expected 3 unusable frames and a single request, got %+v", stats)
	}
	select {
	case msg := <-messages:
		t.Fatalf("expected no further messages, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientAppliesFullAndAcks(t *testing.T) {
	world := snap.MustNew(
		snap.Item{Key: snap.ItemKey{Type: sim.ItemGameInfo}, Data: []int32{0, 0, 4}},
		snap.Item{Key: snap.ItemKey{Type: sim.ItemPickup, ID: 2}, Data: []int32{7, 8, 1}},
	)
	full := proto.EncodeDelta(replication.WireDelta{Full: true, To: 4, Checksum: world.Checksum(), Delta: snap.Diff(snap.Empty, world)})
	srv, messages := scriptedServer(t, full)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan replication.ReceivedDelta, 1)
	client, err := Dial(ctx, ClientConfig{
		URL:        websocketURL(t, srv.URL),
		Schema:     sim.Schema(),
		OnSnapshot: func(d replication.ReceivedDelta) { received <- d },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	go client.Run(ctx)

	select {
	case got := <-received:
		if !got.Full || got.Tick != 4 || !got.Snap.Equal(world) {
			t.Fatalf("unexpected snapshot %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no snapshot received")
	}
	select {
	case msg := <-messages:
		if msg.Type != proto.TypeAck || *msg.Ack != 4 {
			t.Fatalf("expected ack for tick 4, got %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("client did not acknowledge")
	}
}
