package queue

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message wraps a Job with its delivery information. Messages from RabbitMQ
// ack through the AMQP channel; in-memory queues install the callbacks.
type Message struct {
	Job         *Job
	DeliveryTag uint64
	Channel     *amqp.Channel

	ackFn  func() error
	nackFn func(requeue bool) error
}

// NewMessage wraps a job with explicit ack callbacks, for in-memory queues
// and tests. Nil callbacks make Ack and Nack no-ops.
func NewMessage(job *Job, ack func() error, nack func(requeue bool) error) *Message {
	return &Message{Job: job, ackFn: ack, nackFn: nack}
}

// Ack acknowledges the message
func (m *Message) Ack() error {
	if m.ackFn != nil {
		return m.ackFn()
	}
	if m.Channel == nil {
		return nil
	}
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack negatively acknowledges the message
func (m *Message) Nack(requeue bool) error {
	if m.nackFn != nil {
		return m.nackFn(requeue)
	}
	if m.Channel == nil {
		return nil
	}
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

// GetJob returns the wrapped job
func (m *Message) GetJob() *Job {
	return m.Job
}
