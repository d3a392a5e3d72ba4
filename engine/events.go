package engine

import (
	"sync"
	"time"
)

// EventType identifies an engine notification for collaborators.
type EventType string

const (
	EventRuleMatched         EventType = "rule.matched"
	EventActionExecuted      EventType = "action.executed"
	EventActionFailed        EventType = "action.failed"
	EventNotification        EventType = "notification.intent"
	EventWorkflowTrigger     EventType = "workflow.trigger"
	EventEvaluationCompleted EventType = "evaluation.completed"
	EventEngineError         EventType = "engine.error"
)

// Event is a typed engine notification. Events are delivered synchronously,
// in emission order, to every subscribed listener. An orchestrator
// typically subscribes to forward workflow triggers and notification
// intents to their respective collaborators.
type Event struct {
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	RuleID  string         `json:"rule_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type subscriber struct {
	id int
	fn func(Event)
}

// subscribers is an ordered listener list with explicit registration,
// replacing ambient emitter state.
type subscribers struct {
	mu   sync.RWMutex
	next int
	subs []subscriber
}

// add registers fn and returns an unsubscribe closure.
func (s *subscribers) add(fn func(Event)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *subscribers) emit(ev Event) {
	s.mu.RLock()
	listeners := make([]subscriber, len(s.subs))
	copy(listeners, s.subs)
	s.mu.RUnlock()

	for _, sub := range listeners {
		sub.fn(ev)
	}
}
