package approval

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBroker_RespondUnblocksAwait(t *testing.T) {
	b := NewBroker()

	go func() {
		for i := 0; i < 100; i++ {
			if b.Respond("req-1", Response{Approved: true, Remember: true}) {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	resp, err := b.Await(context.Background(), "req-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Approved || !resp.Remember {
		t.Errorf("resp = %+v", resp)
	}
}

func TestBroker_Timeout(t *testing.T) {
	b := NewBroker()

	resp, err := b.Await(context.Background(), "req-1", 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
	if b.Respond("req-1", Response{Approved: true}) {
		t.Error("response after timeout must be dropped")
	}
}

func TestBroker_ContextCancel(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Await(ctx, "req-1", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestBroker_RespondWithoutWaiter(t *testing.T) {
	b := NewBroker()
	if b.Respond("nobody", Response{Approved: true}) {
		t.Error("Respond without a waiter must return false")
	}
}

func TestBroker_FirstResponseWins(t *testing.T) {
	b := NewBroker()

	go func() {
		for !b.Respond("req-1", Response{Approved: true}) {
			time.Sleep(time.Millisecond)
		}
		if b.Respond("req-1", Response{Approved: false}) {
			t.Error("second response must be dropped")
		}
	}()

	resp, err := b.Await(context.Background(), "req-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Approved {
		t.Errorf("resp = %+v, first response should win", resp)
	}
}

func TestPollingWaiter_PicksUpResponse(t *testing.T) {
	w := NewPollingWaiter(5 * time.Millisecond)

	if !w.Respond("req-1", Response{Approved: true}) {
		t.Fatal("Respond failed")
	}

	resp, err := w.Await(context.Background(), "req-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Approved {
		t.Errorf("resp = %+v", resp)
	}

	// The slot is consumed; a fresh wait times out.
	if _, err := w.Await(context.Background(), "req-1", 30*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout after slot consumed", err)
	}
}

func TestPollingWaiter_DoubleRespondRejected(t *testing.T) {
	w := NewPollingWaiter(5 * time.Millisecond)

	if !w.Respond("req-1", Response{Approved: true}) {
		t.Fatal("first Respond failed")
	}
	if w.Respond("req-1", Response{Approved: false}) {
		t.Error("second Respond for the same id must be rejected")
	}
}

func TestPollingWaiter_Timeout(t *testing.T) {
	w := NewPollingWaiter(5 * time.Millisecond)

	if _, err := w.Await(context.Background(), "req-1", 25*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}
