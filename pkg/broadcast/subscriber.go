// Package broadcast fans messages out to connected subscribers without letting
// a slow subscriber hold up the others.
package broadcast

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is passed to send completions after the connection has gone away.
var ErrClosed = errors.New("subscriber closed")

// Sender is the asynchronous write primitive of a connection. Send must not block;
// done is invoked exactly once when the payload has been written or has failed.
type Sender interface {
	Send(payload []byte, done func(error))
}

// Subscriber queues outbound messages for one connection and writes them in
// order, with at most one write in flight.
type Subscriber struct {
	id     string
	sender Sender
	log    logrus.FieldLogger

	mu     sync.Mutex
	queue  [][]byte
	closed bool
}

// NewSubscriber creates a subscriber writing through sender
func NewSubscriber(log logrus.FieldLogger, id string, sender Sender) *Subscriber {
	return &Subscriber{
		id:     id,
		sender: sender,
		log:    log.WithField("subscriber", id),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string {
	return s.id
}

// Enqueue appends msg to the outbound queue and starts a write when none is in flight.
// Messages enqueued after Close are dropped.
func (s *Subscriber) Enqueue(msg []byte) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}

	s.queue = append(s.queue, msg)
	start := len(s.queue) == 1

	s.mu.Unlock()

	if start {
		s.sender.Send(msg, s.onSent)
	}
}

// Pending returns the number of queued messages, including the one in flight.
func (s *Subscriber) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Close drops queued messages and rejects further ones.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.queue = nil
}

// Closed reports whether Close has been called or a write failed.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Subscriber) onSent(err error) {
	s.mu.Lock()

	if err != nil {
		dropped := len(s.queue)
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		if !errors.Is(err, ErrClosed) {
			s.log.WithError(err).WithField("dropped", dropped).Warn("Write failed, dropping queued messages")
		}

		return
	}

	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}

	s.queue[0] = nil
	s.queue = s.queue[1:]

	if len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}

	next := s.queue[0]
	s.mu.Unlock()

	s.sender.Send(next, s.onSent)
}
