package mqtt

import "fmt"

// PublishRetained stores payload as the retained value of topic.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return c.retain(topic, payload)
}

// ClearRetained removes the retained value of topic. Subscribers receive an
// empty payload.
func (c *Client) ClearRetained(topic string) error {
	return c.retain(topic, nil)
}

func (c *Client) retain(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.paho.Publish(topic, c.qos, true, payload), ErrPublishFailed)
}
