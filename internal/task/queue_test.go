package task

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// exerciseQueue 投递若干任务并确认每个都被处理；首次处理失败的任务会被重新投递。
func exerciseQueue(t *testing.T, queue Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu    sync.Mutex
		seen  = map[string]int{}
		doneC = make(chan struct{})
	)
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[id]++
		if id == ids[0] && seen[id] == 1 {
			return context.DeadlineExceeded
		}
		complete := true
		for _, want := range ids {
			if seen[want] == 0 || (want == ids[0] && seen[want] < 2) {
				complete = false
			}
		}
		if complete {
			select {
			case <-doneC:
			default:
				close(doneC)
			}
		}
		return nil
	}

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = queue.Consume(consumeCtx, 2, handler) }()

	for _, id := range ids {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	select {
	case <-doneC:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("queue did not deliver all tasks: %v", seen)
	}
}

func TestMemoryQueue(t *testing.T) {
	queue := NewMemoryQueue(8)
	exerciseQueue(t, queue)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "late"); err == nil {
		t.Fatalf("publish after close must fail")
	}
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("CHAINGUARD_TEST_REDIS")
	if addr == "" {
		t.Skip("CHAINGUARD_TEST_REDIS not set")
	}
	queue, err := NewRedisQueue(context.Background(), RedisQueueConfig{
		Address:   addr,
		Queue:     "chainguard:test:" + uuid.NewString(),
		BlockWait: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("redis queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	exerciseQueue(t, queue)
}

func TestRabbitMQQueue(t *testing.T) {
	url := os.Getenv("CHAINGUARD_TEST_AMQP")
	if url == "" {
		t.Skip("CHAINGUARD_TEST_AMQP not set")
	}
	queue, err := NewRabbitMQQueue(RabbitMQConfig{
		URL:        url,
		Queue:      "chainguard.test." + uuid.NewString(),
		AutoDelete: true,
	})
	if err != nil {
		t.Fatalf("rabbitmq queue: %v", err)
	}
	t.Cleanup(func() { queue.Close() })
	exerciseQueue(t, queue)
}
