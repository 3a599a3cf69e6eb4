// Package bus carries chat, speech and avatar events between components.
package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventType names an event.
type EventType string

const (
	// Chat
	EventTypeMessageSent  EventType = "chat.message_sent"
	EventTypeReply        EventType = "chat.reply"
	EventTypeChatError    EventType = "chat.error"
	EventTypeHistoryReset EventType = "chat.history_reset"

	// Speech
	EventTypeTTSStarted  EventType = "tts.started"
	EventTypeTTSStopped  EventType = "tts.stopped"
	EventTypeTTSFallback EventType = "tts.fallback"

	// Avatar
	EventTypeLoadState      EventType = "avatar.load_state"
	EventTypeEmotionChanged EventType = "avatar.emotion_changed"
	EventTypeAvatarSelected EventType = "avatar.selected"

	EventTypeBackendSelected EventType = "render.backend_selected"
	EventTypeConfigChanged   EventType = "config.changed"
)

// Event is one published occurrence. Data is shared between handlers and
// must not be mutated.
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler receives events. Handlers run on their own goroutine.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// EventBus fans events out to subscribers. A panicking handler is logged and
// does not affect the others.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	log    zerolog.Logger
}

// NewEventBus returns an empty bus that logs nowhere.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[EventType][]subscription),
		log:  zerolog.Nop(),
	}
}

// SetLogger sets where handler panics are reported.
func (b *EventBus) SetLogger(log zerolog.Logger) {
	b.mu.Lock()
	b.log = log.With().Str("component", "bus").Logger()
	b.mu.Unlock()
}

// Subscribe registers handler for eventType and returns a func that removes
// it again.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

// SubscribeMultiple registers handler for each event type.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) (unsubscribe func()) {
	undo := make([]func(), 0, len(eventTypes))
	for _, et := range eventTypes {
		undo = append(undo, b.Subscribe(et, handler))
	}
	return func() {
		for _, u := range undo {
			u()
		}
	}
}

func (b *EventBus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}

func (b *EventBus) snapshot(t EventType) ([]Handler, zerolog.Logger) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.subs[t]))
	for i, s := range b.subs[t] {
		handlers[i] = s.fn
	}
	return handlers, b.log
}

func call(h Handler, e Event, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Type)).Msg("Event handler panicked")
		}
	}()
	h(e)
}

// Publish delivers event without waiting. A nil bus drops it.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	handlers, log := b.snapshot(event.Type)
	for _, h := range handlers {
		go call(h, event, log)
	}
}

// PublishSync delivers event and waits for every handler to return.
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	handlers, log := b.snapshot(event.Type)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			call(h, event, log)
		}(h)
	}
	wg.Wait()
}

// Subscribers reports how many handlers listen for t.
func (b *EventBus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

// Clear removes every subscription.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[EventType][]subscription)
}
