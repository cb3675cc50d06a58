// Package bus is the in-process publish/subscribe transport connecting the
// scanner, watcher, and encoder to any observer (the future HTTP
// collaborator's SSE/WebSocket layer, tests, logging hooks).
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/metrics"
)

// Topic names published by the core components, per §4.10.
const (
	TopicScanProgress     = "scan_progress"
	TopicScanComplete     = "scan_complete"
	TopicEncodingProgress = "encoding_progress"
	TopicEncodingComplete = "encoding_complete"
)

// Message is an opaque event payload; publishers and subscribers agree on
// the concrete type per topic.
type Message interface{}

// Subscriber is a single topic subscription.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// MemoryBus is an in-process, non-durable pub/sub. Publish never blocks
// indefinitely: a slow or absent subscriber causes the message to be
// dropped (counted), not the publisher to stall.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

// Publish fans msg out to every current subscriber of topic. A subscriber
// whose buffer is full is skipped and counted as a drop rather than
// blocking the other subscribers or the caller.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range chs {
		select {
		case ch <- msg:
		default:
			count := dropCount.Add(1)
			metrics.IncBusDropReason(topic, "full")
			if count%dropLogEvery == 0 {
				log.WithComponent("bus").Warn().
					Str("topic", topic).
					Uint64("dropped", count).
					Msg("memory bus dropped message: subscriber buffer full")
			}
		}
	}
	return nil
}

// Subscribe opens a new subscription to topic. The returned channel has a
// bounded buffer; slow readers drop messages rather than stall Publish.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	close(s.ch)
	return nil
}

var _ Bus = (*MemoryBus)(nil)
