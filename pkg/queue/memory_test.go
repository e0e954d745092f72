package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	if err := q.Send(ctx, Message{Body: "a", GroupID: "user-1", DedupID: "CASE-1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	received, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(received) != 1 || received[0].Body != "a" {
		t.Fatalf("Receive() = %+v, want one message with body %q", received, "a")
	}

	if err := q.Delete(ctx, received[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	again, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Receive() after delete = %+v, want empty", again)
	}
}

func TestMemoryQueue_FIFOPerGroup(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	for i, body := range []string{"first", "second", "third"} {
		if err := q.Send(ctx, Message{Body: body, GroupID: "user-1", DedupID: string(rune('A' + i))}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	var order []string
	for i := 0; i < 3; i++ {
		received, err := q.Receive(ctx, 1)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if len(received) != 1 {
			t.Fatalf("Receive() returned %d messages, want 1", len(received))
		}
		order = append(order, received[0].Body)
	}

	want := []string{"first", "second", "third"}
	for i, body := range want {
		if order[i] != body {
			t.Errorf("order[%d] = %q, want %q", i, order[i], body)
		}
	}
}

func TestMemoryQueue_DedupWindowSuppressesReenqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	fakeNow := time.Now()
	q.now = func() time.Time { return fakeNow }

	msg := Message{Body: "dup", GroupID: "case-1", DedupID: "22CR714844-590"}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := q.Send(ctx, msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	received, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("Receive() = %d messages, want 1 (second send should be suppressed)", len(received))
	}

	fakeNow = fakeNow.Add(2 * time.Minute)
	if err := q.Send(ctx, msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	received, err = q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(received) != 1 {
		t.Errorf("Receive() after dedup window elapsed = %d messages, want 1", len(received))
	}
}

func TestMemoryQueue_GroupsDoNotStarveEachOther(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	if err := q.Send(ctx, Message{Body: "g1-a", GroupID: "g1", DedupID: "d1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := q.Send(ctx, Message{Body: "g2-a", GroupID: "g2", DedupID: "d2"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	received, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("Receive() = %d messages, want one per group", len(received))
	}
}
