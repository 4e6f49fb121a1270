package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicDecision, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicDecision {
			t.Errorf("expected topic %s, got %s", domain.TopicDecision, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message ID and timestamp to be set")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var alerts, feedback atomic.Int32

		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alerts.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, domain.TopicFeedback, func(ctx context.Context, msg *domain.Message) error {
			feedback.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicAlert, []byte("alert"))
		waitFor(t, &wg)
		time.Sleep(20 * time.Millisecond)

		if alerts.Load() != 1 {
			t.Errorf("alert subscriber should receive 1 message, got %d", alerts.Load())
		}
		if feedback.Load() != 0 {
			t.Errorf("feedback subscriber should receive 0 messages, got %d", feedback.Load())
		}
	})

	t.Run("PublishJSON", func(t *testing.T) {
		var got domain.Feedback

		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "json.topic", func(ctx context.Context, msg *domain.Message) error {
			defer wg.Done()
			return json.Unmarshal(msg.Payload, &got)
		})

		err := PublishJSON(ctx, bus, "json.topic", domain.Feedback{Feedback: domain.FeedbackValid, RiskScore: 0.8})
		if err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
		waitFor(t, &wg)

		if got.Feedback != domain.FeedbackValid || got.RiskScore != 0.8 {
			t.Errorf("unexpected payload %+v", got)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		var wg sync.WaitGroup
		wg.Add(1)

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		waitFor(t, &wg)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.mu.RLock()
		remaining := len(bus.subscriptions["unsub.topic"])
		bus.mu.RUnlock()
		if remaining != 0 {
			t.Errorf("expected subscription to be removed, %d left", remaining)
		}

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, &wg)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if _, err := bus.Subscribe(ctx, "close.topic", nil); err == nil {
		t.Error("expected subscribe error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestNATSDefaults(t *testing.T) {
	cfg := natsDefaults(domain.EventBusConfig{Type: "nats"})

	if cfg.NATSUrl != "nats://127.0.0.1:4222" {
		t.Errorf("unexpected default url %s", cfg.NATSUrl)
	}
	if cfg.NATSMaxReconnects != 10 || cfg.NATSReconnectWait != 5 {
		t.Errorf("unexpected reconnect defaults %d/%d", cfg.NATSMaxReconnects, cfg.NATSReconnectWait)
	}

	cfg = natsDefaults(domain.EventBusConfig{NATSUrl: "nats://bus:4222", NATSMaxReconnects: 3, NATSReconnectWait: 1})
	if cfg.NATSUrl != "nats://bus:4222" || cfg.NATSMaxReconnects != 3 || cfg.NATSReconnectWait != 1 {
		t.Errorf("explicit settings must be kept, got %+v", cfg)
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
