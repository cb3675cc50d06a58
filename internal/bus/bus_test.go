package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicScanProgress)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(context.Background(), TopicScanProgress, "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.C():
		if msg != "hello" {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Publish(context.Background(), TopicEncodingComplete, "x"); err != nil {
		t.Fatalf("publish with no subscribers should not error: %v", err)
	}
}

func TestPublish_DropsOnFullBuffer(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicEncodingProgress)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 100; i++ {
		if err := b.Publish(context.Background(), TopicEncodingProgress, i); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	// No assertion on drop count: the point is Publish never blocks or errors
	// even when the subscriber never drains.
}

func TestSubscribeClose_StopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicScanComplete)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, open := <-sub.C(); open {
		t.Fatal("expected channel to be closed after Close")
	}
}
