package command

import (
	"context"
	"testing"
	"time"
)

func TestSendAndReplyRoundTrip(t *testing.T) {
	mb := NewMailbox(4, nil)

	go func() {
		msg, ok := mb.Next()
		for !ok {
			msg, ok = mb.Next()
		}
		mb.Reply(msg, Response{Status: Status{State: StateHalted}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := mb.Send(ctx, &Message{Kind: KindQueryStatus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status.State != StateHalted {
		t.Fatalf("expected StateHalted, got %v", resp.Status.State)
	}
}

func TestTrySendFullMailbox(t *testing.T) {
	mb := NewMailbox(1, nil)
	mb.ch <- &Message{Kind: KindStopProgram, reply: make(chan Response, 1)}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := mb.TrySend(ctx, &Message{Kind: KindStopProgram})
	if err != ErrMailboxFull {
		t.Fatalf("expected ErrMailboxFull, got %v", err)
	}
}

func TestNextIsNonBlockingWhenEmpty(t *testing.T) {
	mb := NewMailbox(1, nil)
	msg, ok := mb.Next()
	if ok || msg != nil {
		t.Fatalf("expected no message on an empty mailbox")
	}
}

func TestFIFOOrdering(t *testing.T) {
	mb := NewMailbox(4, nil)
	first := &Message{Kind: KindStopProgram, reply: make(chan Response, 1)}
	second := &Message{Kind: KindQueryStatus, reply: make(chan Response, 1)}
	mb.ch <- first
	mb.ch <- second

	got1, _ := mb.Next()
	got2, _ := mb.Next()
	if got1.Kind != KindStopProgram || got2.Kind != KindQueryStatus {
		t.Fatalf("expected FIFO order, got %v then %v", got1.Kind, got2.Kind)
	}
}
