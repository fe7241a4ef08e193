package rpc

import (
	"encoding/json"
	"sync"

	"github.com/pml-run/pml/executor"
)

// WireEvent is the JSON encoding of an executor.Event for the event stream
// (§6.3): Kind plus its payload flattened alongside workflow_id/timestamp.
type WireEvent struct {
	Event      string                 `json:"event"`
	WorkflowID string                 `json:"workflow_id"`
	Timestamp  string                 `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
}

func toWireEvent(e executor.Event) WireEvent {
	data := make(map[string]interface{}, len(e.Payload))
	for k, v := range e.Payload {
		data[k] = v
	}
	return WireEvent{
		Event:      string(e.Kind),
		WorkflowID: e.WorkflowID,
		Timestamp:  e.Timestamp.UTC().Format(timeLayout),
		Data:       data,
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// EncodeSSE renders e as one "data: <json>\n\n" Server-Sent Events frame.
func EncodeSSE(e executor.Event) ([]byte, error) {
	payload, err := json.Marshal(toWireEvent(e))
	if err != nil {
		return nil, err
	}
	out := append([]byte("data: "), payload...)
	out = append(out, '\n', '\n')
	return out, nil
}

// broadcaster fans one workflow's events out to every live subscriber and
// keeps a bounded backlog so a subscriber that connects mid-workflow still
// sees what happened before it joined.
type broadcaster struct {
	mu          sync.Mutex
	backlog     []executor.Event
	subscribers map[chan executor.Event]struct{}
	maxBacklog  int
}

func newBroadcaster(maxBacklog int) *broadcaster {
	if maxBacklog <= 0 {
		maxBacklog = 256
	}
	return &broadcaster{subscribers: make(map[chan executor.Event]struct{}), maxBacklog: maxBacklog}
}

// Emit implements executor.Sink.
func (b *broadcaster) Emit(e executor.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.backlog = append(b.backlog, e)
	if len(b.backlog) > b.maxBacklog {
		b.backlog = b.backlog[len(b.backlog)-b.maxBacklog:]
	}
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default: // slow subscriber drops the live event; it can still replay the backlog
		}
	}
}

// Subscribe returns a channel receiving every future event plus the current
// backlog replayed first, and an unsubscribe func.
func (b *broadcaster) Subscribe() (<-chan executor.Event, []executor.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan executor.Event, 32)
	b.subscribers[ch] = struct{}{}
	backlogCopy := make([]executor.Event, len(b.backlog))
	copy(backlogCopy, b.backlog)

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	return ch, backlogCopy, unsubscribe
}
