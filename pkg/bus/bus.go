// Package bus provides in-process publish/subscribe for synthesis progress
// events plus a task queue used by the automatic synthesis trigger. Subjects
// are dot-separated, e.g. "synthesis.analyze_sentiment.iteration"; patterns
// support "*" for one token and ">" for the rest.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// Bus is the pub/sub surface. Implementations must be safe for concurrent
// use.
type Bus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages matching the subject
	// pattern. The handler runs on the subscription's own goroutine.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Queue returns the named task queue, creating it on first use.
	Queue(name string) TaskQueue

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message is one delivered event.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// TaskQueue distributes work to pulling workers. Tasks must be acknowledged;
// a Nack returns the task for redelivery.
type TaskQueue interface {
	Push(ctx context.Context, data []byte) error
	Pull(ctx context.Context) (*Task, error)
	Ack(ctx context.Context, taskID string) error
	Nack(ctx context.Context, taskID string) error
	Len(ctx context.Context) (int, error)
	Name() string
}

// Task is a unit of work pulled from a TaskQueue.
type Task struct {
	ID   string
	Data []byte
}
