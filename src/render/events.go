package render

import (
	"fmt"
	"sync"
)

type EventKind int

const (
	EventOther EventKind = iota
	EventResize
	EventCloseRequested
)

func (k EventKind) String() string {
	switch k {
	case EventOther:
		return "other"
	case EventResize:
		return "resize"
	case EventCloseRequested:
		return "close_requested"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind          EventKind
	Width, Height uint32
}

func ResizeEvent(width, height uint32) Event {
	return Event{Kind: EventResize, Width: width, Height: height}
}

func CloseRequestedEvent() Event {
	return Event{Kind: EventCloseRequested}
}

// EventQueue decouples the producer of window events (callbacks running
// inside the platform's poll) from the frame loop that consumes them.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain returns queued events in arrival order and never blocks on an
// empty queue.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	return out
}
