package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// subscriptionSet is what the client has asked the broker for, keyed by
// topic filter. handleConnect replays it because the client connects with
// a clean session. The zero value is ready to use.
type subscriptionSet struct {
	mu     sync.RWMutex
	topics map[string]subscription
}

func (s *subscriptionSet) put(topic string, sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics == nil {
		s.topics = make(map[string]subscription)
	}
	s.topics[topic] = sub
}

func (s *subscriptionSet) remove(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *subscriptionSet) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

// each calls fn for every subscription under the read lock.
func (s *subscriptionSet) each(fn func(topic string, sub subscription)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for topic, sub := range s.topics {
		fn(topic, sub)
	}
}

// Subscribe registers handler for topic, which may contain the + and #
// wildcards. Handlers run on paho's goroutines and must not block; the
// sensor reader only caches the payload.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Recorded first so a reconnect racing this call still replays it.
	c.subs.put(topic, subscription{qos: qos, handler: handler})

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subs.remove(topic)
		return err
	}
	return nil
}

// Unsubscribe drops topic. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.remove(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// SubscriptionCount returns the number of tracked topic filters.
func (c *Client) SubscriptionCount() int {
	return c.subs.len()
}

// HasSubscription reports whether exactly topic is subscribed. Filters are
// compared as strings, not matched.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
}

// restoreSubscriptions replays every tracked subscription after a
// reconnect. Failures are not retried here; the next reconnect replays
// them again.
func (c *Client) restoreSubscriptions() {
	c.subs.each(func(topic string, sub subscription) {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	})
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for a broker acknowledgement and wraps a timeout or broker
// error in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
