package sdn

import (
	"fmt"
	"sync"

	"github.com/appnet-org/sdnsim/pkg/topology"
)

// EventKind names a protocol step.
type EventKind int

const (
	// Controller side.
	EventStartTriggered EventKind = iota + 1
	EventHelloReceived
	EventTableSent
	EventAcknowledged
	EventBootstrapComplete
	EventBootstrapRetry
	EventBootstrapStalled
	EventDropInstructed

	// Router side.
	EventHelloSent
	EventHandshakeConfirmed
	EventTableInstalled
	EventAttachmentNotified
	EventForwarded
	EventEscalated
	EventDropped

	// End user side.
	EventRouterLearned
	EventDelivered
)

var eventNames = map[EventKind]string{
	EventStartTriggered:     "start-triggered",
	EventHelloReceived:      "hello-received",
	EventTableSent:          "table-sent",
	EventAcknowledged:       "acknowledged",
	EventBootstrapComplete:  "bootstrap-complete",
	EventBootstrapRetry:     "bootstrap-retry",
	EventBootstrapStalled:   "bootstrap-stalled",
	EventDropInstructed:     "drop-instructed",
	EventHelloSent:          "hello-sent",
	EventHandshakeConfirmed: "handshake-confirmed",
	EventTableInstalled:     "table-installed",
	EventAttachmentNotified: "attachment-notified",
	EventForwarded:          "forwarded",
	EventEscalated:          "escalated",
	EventDropped:            "dropped",
	EventRouterLearned:      "router-learned",
	EventDelivered:          "delivered",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one observable protocol step. Node is where it happened; Peer is the other side
// (the router being started, the next hop, the sender). Src and Dst are set for message
// events.
type Event struct {
	Kind EventKind
	Node topology.NodeID
	Peer topology.NodeID
	Src  topology.NodeID
	Dst  topology.NodeID
}

func (e Event) String() string {
	s := fmt.Sprintf("%s %s", e.Node, e.Kind)
	if e.Peer.IsValid() {
		s += " peer=" + e.Peer.String()
	}
	if e.Src.IsValid() {
		s += fmt.Sprintf(" %s->%s", e.Src, e.Dst)
	}
	return s
}

// EventFunc receives events.
type EventFunc func(Event)

// EventLog is an EventFunc sink that keeps events in the order they were emitted across
// all nodes.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// Record appends ev. Its method value is usable as an EventFunc.
func (l *EventLog) Record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Filter returns recorded events of the given kinds.
func (l *EventLog) Filter(kinds ...EventKind) []Event {
	var out []Event
	for _, ev := range l.Events() {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
