package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when no responder answers within the wait window.
var ErrTimeout = errors.New("approval timed out")

// Response is a human's answer to an approval request. Remember turns an
// approval into a standing allow for the same tool and scope.
type Response struct {
	Approved bool
	Remember bool
}

// Request describes what is awaiting approval, for listeners that surface
// the prompt to a human.
type Request struct {
	ID             string
	Tool           string
	Params         map[string]interface{}
	ConversationID string
}

// Waiter blocks a tool call until a response arrives or the timeout
// elapses. At most one responder wins; late responses are dropped.
type Waiter interface {
	Await(ctx context.Context, id string, timeout time.Duration) (*Response, error)
	Respond(id string, resp Response) bool
}

// Broker is the in-process Waiter: each pending request gets a buffered
// channel, so Respond never blocks and the first response wins.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan Response
}

func NewBroker() *Broker {
	return &Broker{pending: make(map[string]chan Response)}
}

func (b *Broker) Await(ctx context.Context, id string, timeout time.Duration) (*Response, error) {
	ch := make(chan Response, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return &resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Broker) Respond(id string, resp Response) bool {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// PollingWaiter reads a keyed slot store on a fixed interval. It exists for
// deployments where the responder runs in another process writing to shared
// storage; in-process callers should prefer Broker.
type PollingWaiter struct {
	mu       sync.Mutex
	slots    map[string]*Response
	interval time.Duration
}

func NewPollingWaiter(interval time.Duration) *PollingWaiter {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &PollingWaiter{
		slots:    make(map[string]*Response),
		interval: interval,
	}
}

func (w *PollingWaiter) Await(ctx context.Context, id string, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if resp := w.take(id); resp != nil {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (w *PollingWaiter) Respond(id string, resp Response) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.slots[id]; exists {
		return false
	}
	w.slots[id] = &resp
	return true
}

func (w *PollingWaiter) take(id string) *Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	resp := w.slots[id]
	if resp != nil {
		delete(w.slots, id)
	}
	return resp
}
