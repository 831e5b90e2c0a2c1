package network

import (
	"context"

	"github.com/Learath2/libtw2/logging"
)

const (
	// EventPeerConnected is emitted when a peer slot is created.
	EventPeerConnected logging.EventType = "network.peer_connected"
	// EventPeerDisconnected is emitted when a peer slot is released.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
	// EventAckAdvanced is emitted when a peer acknowledges a newer tick.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckRegression is emitted when a peer reports an acknowledgement that is not newer than the recorded one.
	EventAckRegression logging.EventType = "network.ack_regression"
	// EventDeltaSent is emitted for every incremental delta queued to a peer.
	EventDeltaSent logging.EventType = "replication.delta_sent"
	// EventFullResend is emitted when a peer is sent a full snapshot.
	EventFullResend logging.EventType = "replication.full_resend"
	// EventResyncRequested is emitted when a peer asks for a full snapshot.
	EventResyncRequested logging.EventType = "replication.resync_requested"
	// EventHistoryEvicted is emitted when snapshots leave the history buffer.
	EventHistoryEvicted logging.EventType = "replication.history_evicted"
	// EventSendDropped is emitted when a peer's outbox is full.
	EventSendDropped logging.EventType = "network.send_dropped"
)

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint64 `json:"previous"`
	Ack      uint64 `json:"ack"`
}

// DeltaPayload describes a delta queued to a peer.
type DeltaPayload struct {
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Updated int    `json:"updated"`
	Bytes   int    `json:"bytes"`
}

// FullPayload describes why a full snapshot was sent.
type FullPayload struct {
	Items  int    `json:"items"`
	Bytes  int    `json:"bytes"`
	Reason string `json:"reason"`
}

// ResyncPayload carries the reason a peer gave for asking to resync.
type ResyncPayload struct {
	Reason string `json:"reason"`
}

// EvictionPayload lists the ticks dropped from history.
type EvictionPayload struct {
	Ticks  []uint64 `json:"ticks"`
	Reason string   `json:"reason"`
}

// DisconnectPayload captures why a peer left.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// PeerConnected publishes a peer join event.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventPeerConnected, tick, actor, logging.SeverityInfo, logging.CategoryNetwork, nil, extra)
}

// PeerDisconnected publishes a peer leave event.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DisconnectPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerDisconnected, tick, actor, logging.SeverityInfo, logging.CategoryNetwork, payload, extra)
}

// AckAdvanced publishes a debug event when a peer acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, EventAckAdvanced, tick, actor, logging.SeverityDebug, logging.CategoryNetwork, payload, extra)
}

// AckRegression publishes a debug event when an acknowledgement arrives out
// of order. Reordering is expected on lossy links so this is not a warning.
func AckRegression(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, EventAckRegression, tick, actor, logging.SeverityDebug, logging.CategoryNetwork, payload, extra)
}

// DeltaSent publishes a debug event for an incremental delta.
func DeltaSent(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeltaPayload, extra map[string]any) {
	publish(ctx, pub, EventDeltaSent, tick, actor, logging.SeverityDebug, logging.CategoryReplication, payload, extra)
}

// FullResend publishes an info event when a peer receives a full snapshot.
func FullResend(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FullPayload, extra map[string]any) {
	publish(ctx, pub, EventFullResend, tick, actor, logging.SeverityInfo, logging.CategoryReplication, payload, extra)
}

// ResyncRequested publishes a warning when a peer could not use its deltas.
func ResyncRequested(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ResyncPayload, extra map[string]any) {
	publish(ctx, pub, EventResyncRequested, tick, actor, logging.SeverityWarn, logging.CategoryReplication, payload, extra)
}

// HistoryEvicted publishes a debug event for trimmed history.
func HistoryEvicted(ctx context.Context, pub logging.Publisher, tick uint64, payload EvictionPayload, extra map[string]any) {
	actor := logging.EntityRef{ID: "history", Kind: logging.EntityKindStorage}
	publish(ctx, pub, EventHistoryEvicted, tick, actor, logging.SeverityDebug, logging.CategoryReplication, payload, extra)
}

// SendDropped publishes a warning when a frame could not be queued.
func SendDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, extra map[string]any) {
	publish(ctx, pub, EventSendDropped, tick, actor, logging.SeverityWarn, logging.CategoryNetwork, nil, extra)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, actor logging.EntityRef, severity logging.Severity, category string, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: category,
		Payload:  payload,
		Extra:    extra,
	})
}
