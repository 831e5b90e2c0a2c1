package replication

import (
	"fmt"

	"github.com/Learath2/libtw2/internal/snap"
)

// ResyncReason records one delta that could not be used.
type ResyncReason struct {
	Kind string
	From snap.Tick
	To   snap.Tick
}

// ResyncSignal is handed to the transport when a resync request should go
// out.
type ResyncSignal struct {
	Failures    uint64
	TotalDeltas uint64
	Reasons     []ResyncReason
}

// ResyncPolicy collapses a burst of unusable deltas into a single outstanding
// resync request. Once a request is consumed no new one is raised until a
// full delta has been applied.
type ResyncPolicy struct {
	totalDeltas uint64
	failures    uint64
	pending     bool
	requested   bool
	sinceAsk    uint64
	reasons     []ResyncReason
}

const resyncReasonLimit = 8

// resyncRetryFailures re-arms an unanswered request after this many further
// unusable deltas.
const resyncRetryFailures = 32

// NewResyncPolicy returns an idle policy.
func NewResyncPolicy() *ResyncPolicy {
	return &ResyncPolicy{reasons: make([]ResyncReason, 0, resyncReasonLimit)}
}

// NoteDelta counts a received delta.
func (p *ResyncPolicy) NoteDelta() {
	if p == nil {
		return
	}
	if p.totalDeltas == ^uint64(0) {
		p.totalDeltas = p.totalDeltas / 2
		p.failures = p.failures / 2
	}
	p.totalDeltas++
}

// NoteResync records a resync condition reported by the receiver.
func (p *ResyncPolicy) NoteResync(kind string, from, to snap.Tick) {
	if p == nil {
		return
	}
	p.failures++
	if len(p.reasons) < resyncReasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Kind: kind, From: from, To: to})
	}
	if p.requested {
		p.sinceAsk++
		if p.sinceAsk < resyncRetryFailures {
			return
		}
	}
	p.pending = true
}

// NoteFull clears the outstanding request once a full delta was applied.
func (p *ResyncPolicy) NoteFull() {
	if p == nil {
		return
	}
	p.requested = false
	p.pending = false
	p.sinceAsk = 0
	p.failures = 0
	p.totalDeltas = 0
	p.reasons = p.reasons[:0]
}

// Consume returns the pending signal, if any, and marks it as requested.
func (p *ResyncPolicy) Consume() (ResyncSignal, bool) {
	if p == nil || !p.pending {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		Failures:    p.failures,
		TotalDeltas: p.totalDeltas,
		Reasons:     append([]ResyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.requested = true
	p.sinceAsk = 0
	p.reasons = p.reasons[:0]
	return signal, true
}

// Outstanding reports whether a resync request was sent and not yet answered.
func (p *ResyncPolicy) Outstanding() bool {
	return p != nil && p.requested
}

// Summary renders the signal for logs.
func (s ResyncSignal) Summary() string {
	if s.Failures == 0 && s.TotalDeltas == 0 {
		return ""
	}
	return fmt.Sprintf("failures=%d total_deltas=%d reasons=%v", s.Failures, s.TotalDeltas, s.Reasons)
}
