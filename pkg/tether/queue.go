package tether

// messageQueue is a bounded FIFO buffer for outbound messages issued while
// a connection is not yet connected. Overflow policy is reject-newest:
// already-accepted messages keep their delivery order and the incoming
// message is dropped. Not safe for concurrent use; the owning connection
// serializes access.
type messageQueue struct {
	capacity int
	items    []Message
}

func newMessageQueue(capacity int) *messageQueue {
	return &messageQueue{
		capacity: capacity,
		items:    make([]Message, 0, capacity),
	}
}

// push appends a message, or returns ErrQueueOverflow when the queue is at
// capacity.
func (q *messageQueue) push(msg Message) error {
	if len(q.items) >= q.capacity {
		return ErrQueueOverflow
	}
	q.items = append(q.items, msg)
	return nil
}

// drain removes and returns all buffered messages in enqueue order.
func (q *messageQueue) drain() []Message {
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]Message, 0, q.capacity)
	return out
}

func (q *messageQueue) len() int {
	return len(q.items)
}
