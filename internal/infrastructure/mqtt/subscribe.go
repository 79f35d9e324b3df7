package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The broker immediately replays matching retained values. A
// second Subscribe on the same topic replaces the handler.
//
// Parameters:
//   - topic: Topic or pattern, usually built with Topics
//   - qos: Maximum delivery QoS (0, 1 or 2)
//   - handler: Called on paho's router goroutine; must not block
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected or a wrapped ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > 2:
		return fmt.Errorf("%w: invalid QoS %d", ErrSubscribeFailed, qos)
	case handler == nil:
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subs.Store(topic, subscription{qos: qos, handler: handler})
	if err := wait(c.paho.Subscribe(topic, qos, c.deliver(handler)), ErrSubscribeFailed); err != nil {
		c.subs.Delete(topic)
		return err
	}
	return nil
}

// Unsubscribe drops the subscription for topic. Messages already in flight
// may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.subs.Delete(topic)
	return wait(c.paho.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// Subscriptions returns the tracked topics in sorted order.
func (c *Client) Subscriptions() []string {
	topics := make([]string, 0, c.subs.Size())
	c.subs.Range(func(topic string, _ subscription) bool {
		topics = append(topics, topic)
		return true
	})
	sort.Strings(topics)
	return topics
}
