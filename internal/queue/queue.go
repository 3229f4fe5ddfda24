package queue

import (
	"context"
	"fmt"
)

// Publisher publishes document write events to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg WriteEventMessage) error
	Close() error
}

// MessageHandler handles a consumed write event.
type MessageHandler func(ctx context.Context, msg WriteEventMessage) error

// Consumer consumes write events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// QueueName returns the work queue carrying writes for a collection,
// e.g. writes.notifications.
func QueueName(collection string) string {
	return fmt.Sprintf("writes.%s", collection)
}

// DLQName returns the dead-letter queue for a collection's writes,
// e.g. dlq.writes.notifications.
func DLQName(collection string) string {
	return fmt.Sprintf("dlq.%s", QueueName(collection))
}
