package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish sends payload to topic and waits for the broker's acknowledgement
// (QoS 1 and 2) up to a timeout.
//
// The relay publishes lifecycle events retained at the configured QoS on
// {prefix}/run/{id}/status and sample batches at QoS 0 on
// {prefix}/run/{id}/samples.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed); err != nil {
		c.failures.Add(1)
		return err
	}
	c.published.Add(1)
	return nil
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is restored after reconnects. Handler errors
// are logged and panics recovered.
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

	c.subs.add(subscription{topic: topic, qos: qos, handler: handler})
	if err := wait(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.subs.remove(topic)
		return err
	}
	return nil
}

// Unsubscribe removes the subscription registered for exactly topic.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subs.remove(topic)
	return wait(c.client.Unsubscribe(topic), ErrSubscribeFailed)
}

// HasSubscription reports whether topic, as given to Subscribe, is registered.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
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

// wait blocks on a paho token, wrapping timeouts and failures in kind.
func wait(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", kind, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptions is the registry replayed on reconnect. The zero value is ready.
type subscriptions struct {
	mu      sync.RWMutex
	byTopic map[string]subscription
}

func (s *subscriptions) add(sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic == nil {
		s.byTopic = make(map[string]subscription)
	}
	s.byTopic[sub.topic] = sub
}

func (s *subscriptions) remove(topic string) {
	s.mu.Lock()
	delete(s.byTopic, topic)
	s.mu.Unlock()
}

func (s *subscriptions) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTopic[topic]
	return ok
}

func (s *subscriptions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTopic)
}

func (s *subscriptions) all() []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subscription, 0, len(s.byTopic))
	for _, sub := range s.byTopic {
		out = append(out, sub)
	}
	return out
}
