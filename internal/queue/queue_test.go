package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("consume channel closed")
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	ch, _ := q.Consume(ctx)
	if err := q.Publish(ctx, Message{Kind: "notice", Body: json.RawMessage(`{"a":1}`)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msg := receive(t, ch); msg.Kind != "notice" || string(msg.Body) != `{"a":1}` {
		t.Errorf("msg = %+v", msg)
	}

	cancel()
	for range ch {
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	_ = q.Publish(ctx, Message{Kind: "first"})
	cancel()
	if err := q.Publish(ctx, Message{Kind: "second"}); err == nil {
		t.Fatal("publish to a full queue with a cancelled context should fail")
	}
}

func TestRedisQueueFIFOAndMalformed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewRedisQueue(client, "", nil)
	q.poll = time.Second

	at := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	_ = q.Publish(ctx, Message{Kind: "one", At: at})
	if err := client.LPush(ctx, DefaultKey, "not json").Err(); err != nil {
		t.Fatal(err)
	}
	_ = q.Publish(ctx, Message{Kind: "two", At: at})

	ch, _ := q.Consume(ctx)
	if msg := receive(t, ch); msg.Kind != "one" || !msg.At.Equal(at) {
		t.Errorf("first = %+v", msg)
	}
	if msg := receive(t, ch); msg.Kind != "two" {
		t.Errorf("second = %+v, malformed entry should be skipped", msg)
	}
}
