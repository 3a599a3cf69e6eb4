package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishSync(t *testing.T) {
	b := NewEventBus()
	var hits int32
	b.SubscribeMultiple([]EventType{EventTypeTTSStarted, EventTypeTTSStopped}, func(e Event) {
		atomic.AddInt32(&hits, 1)
	})

	b.PublishSync(Event{Type: EventTypeTTSStarted})
	b.PublishSync(Event{Type: EventTypeTTSStopped})
	b.PublishSync(Event{Type: EventTypeReply})
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	b.Clear()
	b.PublishSync(Event{Type: EventTypeTTSStarted})
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPublish_Async(t *testing.T) {
	b := NewEventBus()
	got := make(chan Event, 1)
	b.Subscribe(EventTypeLoadState, func(e Event) { got <- e })

	b.Publish(Event{Type: EventTypeLoadState, Data: map[string]any{"state": "ready"}})

	select {
	case e := <-got:
		assert.Equal(t, "ready", e.Data["state"])
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestNilBus(t *testing.T) {
	var b *EventBus
	assert.NotPanics(t, func() {
		b.Publish(Event{Type: EventTypeReply})
		b.PublishSync(Event{Type: EventTypeReply})
	})
}

func TestUnsubscribe(t *testing.T) {
	b := NewEventBus()
	var first, second int32
	stop := b.Subscribe(EventTypeReply, func(Event) { atomic.AddInt32(&first, 1) })
	b.Subscribe(EventTypeReply, func(Event) { atomic.AddInt32(&second, 1) })
	assert.Equal(t, 2, b.Subscribers(EventTypeReply))

	stop()
	stop()
	assert.Equal(t, 1, b.Subscribers(EventTypeReply))

	b.PublishSync(Event{Type: EventTypeReply})
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))

	stopAll := b.SubscribeMultiple([]EventType{EventTypeTTSStarted, EventTypeTTSStopped}, func(Event) {})
	assert.Equal(t, 1, b.Subscribers(EventTypeTTSStarted))
	stopAll()
	assert.Zero(t, b.Subscribers(EventTypeTTSStarted))
	assert.Zero(t, b.Subscribers(EventTypeTTSStopped))
}

func TestPanickingHandler(t *testing.T) {
	b := NewEventBus()
	var hits int32
	b.Subscribe(EventTypeChatError, func(Event) { panic("boom") })
	b.Subscribe(EventTypeChatError, func(Event) { atomic.AddInt32(&hits, 1) })

	assert.NotPanics(t, func() { b.PublishSync(Event{Type: EventTypeChatError}) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
