package events

import (
	"sync"

	"moovemarket/core/types"
)

// payloadEvent is implemented by events that carry a structured payload.
// Engine events satisfy it; anything else is recorded by type alone.
type payloadEvent interface {
	Event() *types.Event
}

// Recorded pairs a captured event payload with its emission sequence number.
// Sequence numbers are strictly increasing per recorder and give indexers a
// stable ordering key.
type Recorded struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Recorder keeps a bounded in-memory window of the most recent events for
// read-side consumers such as the gateway's activity feed. It never feeds
// back into engine state.
type Recorder struct {
	mu      sync.RWMutex
	limit   int
	nextSeq uint64
	entries []Recorded
}

// NewRecorder creates a recorder retaining at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 128
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if carrier, ok := evt.(payloadEvent); ok {
		if inner := carrier.Event(); inner != nil {
			payload = inner.Clone()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.entries = append(r.entries, Recorded{Sequence: r.nextSeq, Event: payload})
	if len(r.entries) > r.limit {
		r.entries = r.entries[len(r.entries)-r.limit:]
	}
}

// Recent returns up to limit of the most recent events, newest first.
func (r *Recorder) Recent(limit int) []Recorded {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]Recorded, 0, limit)
	for i := len(r.entries) - 1; i >= len(r.entries)-limit; i-- {
		out = append(out, Recorded{Sequence: r.entries[i].Sequence, Event: r.entries[i].Event.Clone()})
	}
	return out
}
