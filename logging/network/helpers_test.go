package network

import (
	"context"
	"testing"

	"github.com/Learath2/libtw2/logging"
	"github.com/Learath2/libtw2/logging/sinks"
)

func TestHelpersPublishTypedEvents(t *testing.T) {
	mem := sinks.NewMemory()
	ctx := context.Background()
	peer := logging.PeerRef("p1")

	PeerConnected(ctx, mem, 1, peer, nil)
	AckAdvanced(ctx, mem, 2, peer, AckPayload{Previous: 1, Ack: 2}, nil)
	AckRegression(ctx, mem, 2, peer, AckPayload{Previous: 2, Ack: 1}, nil)
	DeltaSent(ctx, mem, 3, peer, DeltaPayload{From: 2, To: 3, Updated: 1}, nil)
	FullResend(ctx, mem, 4, peer, FullPayload{Items: 3, Reason: "no_ack"}, nil)
	ResyncRequested(ctx, mem, 4, peer, ResyncPayload{Reason: "base_mismatch"}, nil)
	HistoryEvicted(ctx, mem, 5, EvictionPayload{Ticks: []uint64{1, 2}, Reason: "unreferenced"}, nil)
	SendDropped(ctx, mem, 5, peer, nil)
	PeerDisconnected(ctx, mem, 6, peer, DisconnectPayload{Reason: "closed"}, map[string]any{"remote": "x"})

	events := mem.Events()
	want := []struct {
		typ      logging.EventType
		severity logging.Severity
	}{
		{EventPeerConnected, logging.SeverityInfo},
		{EventAckAdvanced, logging.SeverityDebug},
		{EventAckRegression, logging.SeverityDebug},
		{EventDeltaSent, logging.SeverityDebug},
		{EventFullResend, logging.SeverityInfo},
		{EventResyncRequested, logging.SeverityWarn},
		{EventHistoryEvicted, logging.SeverityDebug},
		{EventSendDropped, logging.SeverityWarn},
		{EventPeerDisconnected, logging.SeverityInfo},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Type != w.typ || events[i].Severity != w.severity {
			t.Fatalf("event %d: expected %s/%s, got %s/%s", i, w.typ, w.severity, events[i].Type, events[i].Severity)
		}
	}
	if events[6].Actor.Kind != logging.EntityKindStorage {
		t.Fatalf("expected eviction actor to be storage, got %v", events[6].Actor)
	}
	if events[8].Extra["remote"] != "x" {
		t.Fatalf("expected extra to be forwarded, got %v", events[8].Extra)
	}
}

func TestHelpersIgnoreNilPublisher(t *testing.T) {
	AckAdvanced(context.Background(), nil, 1, logging.PeerRef("p"), AckPayload{}, nil)
}
