package event

import (
	"context"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestPublishTopicAndAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var topicCalls, allCalls int
	bus.Subscribe(TopicToastPushed, func(_ context.Context, e Event) {
		topicCalls++
		if e.Payload != "hello" {
			t.Errorf("Payload = %v", e.Payload)
		}
	})
	bus.SubscribeAll(func(context.Context, Event) { allCalls++ })

	_ = bus.Publish(context.Background(), Event{Topic: TopicToastPushed, Payload: "hello"})
	_ = bus.Publish(context.Background(), Event{Topic: TopicWakeState})

	if topicCalls != 1 || allCalls != 2 {
		t.Errorf("topic calls = %d, all calls = %d, want 1 and 2", topicCalls, allCalls)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var a, b int
	unsubA := bus.Subscribe(TopicWakeState, func(context.Context, Event) { a++ })
	bus.Subscribe(TopicWakeState, func(context.Context, Event) { b++ })
	unsubAll := bus.SubscribeAll(func(context.Context, Event) { a++ })

	unsubA()
	unsubAll()
	_ = bus.Publish(context.Background(), Event{Topic: TopicWakeState})

	if a != 0 || b != 1 {
		t.Errorf("a = %d, b = %d, want 0 and 1", a, b)
	}
}

func TestPublishAsyncWait(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(TopicDevicesSnapshot, func(context.Context, Event) { calls.Add(1) })
	}
	bus.PublishAsync(context.Background(), Event{Topic: TopicDevicesSnapshot})
	bus.Wait()

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	bus := NewBus(zap.NewNop())

	reached := false
	bus.Subscribe(TopicToastRemoved, func(context.Context, Event) { panic("boom") })
	bus.Subscribe(TopicToastRemoved, func(context.Context, Event) { reached = true })

	if err := bus.Publish(context.Background(), Event{Topic: TopicToastRemoved}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !reached {
		t.Error("handler after a panicking handler did not run")
	}
}
