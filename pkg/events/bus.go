package events

import (
	"sync"
)

const defaultSubscriberBuffer = 64

// EventBus fans status events out to in-process subscribers by entity name.
// Publishing never blocks the watcher loops: a subscriber that falls behind
// drops events rather than wedging the cycle.
type EventBus struct {
	lock     sync.RWMutex
	channels map[string][]chan StatusEvent
}

func NewEventBus() *EventBus {
	return &EventBus{
		channels: make(map[string][]chan StatusEvent),
	}
}

func (eb *EventBus) Subscribe(entity string) <-chan StatusEvent {
	eb.lock.Lock()
	defer eb.lock.Unlock()
	receiver := make(chan StatusEvent, defaultSubscriberBuffer)
	eb.channels[entity] = append(eb.channels[entity], receiver)
	return receiver
}

func (eb *EventBus) Publish(event StatusEvent) {
	eb.lock.RLock()
	defer eb.lock.RUnlock()
	for _, channel := range eb.channels[event.Entity] {
		select {
		case channel <- event:
		default:
		}
	}
}
