package transport

import "sync"

// inbox is an unbounded byte queue with a wake-up channel.
type inbox struct {
	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(p []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, p...)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// unshift puts p back in front of the queued bytes.
func (q *inbox) unshift(p []byte) {
	q.mu.Lock()
	q.buf = append(append([]byte(nil), p...), q.buf...)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *inbox) drain() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
