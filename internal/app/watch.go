package app

import (
	"context"

	"prep-session-service/internal/domain"
)

// Watch returns a channel that receives an event after every state change of
// the session, starting with the current state. The caller must invoke the
// returned cancel function to avoid leaks.
func (e *Engine) Watch(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	session, err := e.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Event, 8)

	e.watchMu.Lock()
	subs, ok := e.watchers[sessionID]
	if !ok {
		subs = make(map[chan Event]struct{})
		e.watchers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	e.watchMu.Unlock()

	ch <- Event{Session: session}

	cancel := func() {
		e.watchMu.Lock()
		if subs, ok := e.watchers[sessionID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(e.watchers, sessionID)
			}
		}
		e.watchMu.Unlock()
	}
	return ch, cancel, nil
}

// publish fans an event out to the session's watchers. A slow watcher loses
// its oldest event instead of blocking the engine.
func (e *Engine) publish(session domain.Session, answer *domain.Answer) {
	event := Event{Session: session, Answer: answer}

	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for ch := range e.watchers[session.ID] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}
