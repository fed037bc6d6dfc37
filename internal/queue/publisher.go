package queue

// Publisher is what the collect handlers need from the queue.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// BatchPublisher lets a multi-event request go out in one nsqd round-trip.
type BatchPublisher interface {
	Publisher
	MultiPublish(topic string, bodies [][]byte) error
}
