package broker

import (
	"fmt"
	"sync"

	"github.com/dtalk/dtalk-ack-adapter/broker/message"
)

// AckHandler is a function supplied by ack subscribers.
type AckHandler func(ack *message.Ack) error

// subscriptions associates ack handlers to statuses.
type subscriptions struct {
	s   map[message.Status]AckHandler
	all AckHandler
	sync.RWMutex
}

// Subscribe a handler to a specific status.
func (s *subscriptions) Subscribe(st message.Status, h AckHandler) {
	s.Lock()
	defer s.Unlock()
	s.s[st] = h
}

// SubscribeAll sets the handler used for statuses without a specific one.
func (s *subscriptions) SubscribeAll(h AckHandler) {
	s.Lock()
	defer s.Unlock()
	s.all = h
}

// handleAck runs the registered handler according to the ack status.
func (s *subscriptions) handleAck(ack *message.Ack) error {
	s.RLock()
	h, ok := s.s[ack.Status]
	if !ok {
		h, ok = s.all, s.all != nil
	}
	s.RUnlock()
	if !ok {
		return fmt.Errorf("ack handler not registered for status %s", ack.Status)
	}
	return h(ack)
}
