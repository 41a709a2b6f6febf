package news

import "github.com/kospisim/market-engine/internal/model"

// Queue holds emitted events until their jump is due.
type Queue struct {
	pending []model.NewsEvent
}

// Push schedules events.
func (q *Queue) Push(events ...model.NewsEvent) {
	q.pending = append(q.pending, events...)
}

// Due removes and returns the events whose ApplyAtTick has been reached, in
// emission order.
func (q *Queue) Due(tick int64) []model.NewsEvent {
	var due []model.NewsEvent
	rest := q.pending[:0]
	for _, ev := range q.pending {
		if ev.ApplyAtTick <= tick {
			due = append(due, ev)
		} else {
			rest = append(rest, ev)
		}
	}
	q.pending = rest
	return due
}

// Len returns the number of scheduled events.
func (q *Queue) Len() int { return len(q.pending) }

// Clear drops everything scheduled.
func (q *Queue) Clear() { q.pending = nil }

// Log is a bounded display log, newest first.
type Log struct {
	capacity int
	events   []model.NewsEvent
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	return &Log{capacity: capacity}
}

// Add prepends events, evicting the oldest beyond capacity.
func (l *Log) Add(events ...model.NewsEvent) {
	if len(events) == 0 {
		return
	}
	merged := make([]model.NewsEvent, 0, len(events)+len(l.events))
	for i := len(events) - 1; i >= 0; i-- {
		merged = append(merged, events[i])
	}
	merged = append(merged, l.events...)
	if len(merged) > l.capacity {
		merged = merged[:l.capacity]
	}
	l.events = merged
}

// Resolve marks the event with id as resolved. applied records whether the
// jump moved the price.
func (l *Log) Resolve(id string, applied bool) {
	for i := range l.events {
		if l.events[i].ID == id {
			l.events[i].Resolved = true
			l.events[i].Applied = applied
			return
		}
	}
}

// Events returns a copy of the log, newest first.
func (l *Log) Events() []model.NewsEvent {
	return append([]model.NewsEvent(nil), l.events...)
}

// Restore replaces the log contents, trimming to capacity.
func (l *Log) Restore(events []model.NewsEvent) {
	if len(events) > l.capacity {
		events = events[:l.capacity]
	}
	l.events = append([]model.NewsEvent(nil), events...)
}

// Clear empties the log.
func (l *Log) Clear() { l.events = nil }
