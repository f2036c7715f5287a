package bridge

import "context"

// Receiver is called with every payload published to a subscribed topic.
type Receiver func(data []byte)

// Subscription is an active interest in a topic.
type Subscription interface {
	Topic() string
	Stop() error
}

// Transport carries encoded messages between nodes. Publish must be safe
// for concurrent use; receivers may be called from any goroutine.
type Transport interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(topic string, receiver Receiver) (Subscription, error)
	Close() error
}
