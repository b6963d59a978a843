package server

import (
	"log/slog"
	"sync"

	"triforge/engine/internal/conversation"
)

const subscriberBuffer = 256

// event is one engine notification: a StreamFrame carrying a
// conversation.Frame or a StreamAllDone carrying its payload map.
type event struct {
	method  string
	payload any
}

// requestID extracts the correlation id the event belongs to, empty when
// the payload carries none.
func (ev event) requestID() string {
	switch p := ev.payload.(type) {
	case conversation.Frame:
		return p.RequestID
	case map[string]any:
		id, _ := p["requestId"].(string)
		return id
	}
	return ""
}

type subscriber struct {
	ch        chan event
	requestID string
	agentID   string
}

// wants reports whether the event passes the subscriber's filters. The
// agent filter applies to frames only; all-done events are aggregate and
// reach every subscriber whose request filter matches.
func (s *subscriber) wants(ev event) bool {
	if s.requestID != "" && ev.requestID() != s.requestID {
		return false
	}
	if frame, ok := ev.payload.(conversation.Frame); ok {
		if s.agentID != "" && frame.AgentID != s.agentID {
			return false
		}
	}
	return true
}

// broker fans engine notifications out to SSE subscribers. Delivery is
// non-blocking: a subscriber that stops draining loses events rather than
// stalling the session goroutine that published them.
type broker struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

func (b *broker) subscribe(requestID, agentID string) *subscriber {
	sub := &subscriber{
		ch:        make(chan event, subscriberBuffer),
		requestID: requestID,
		agentID:   agentID,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *broker) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// publish matches engine.Notifier.
func (b *broker) publish(method string, params any) {
	ev := event{method: method, payload: params}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("server.subscriber_lagging",
				"method", method,
				"request_id", ev.requestID())
		}
	}
}
