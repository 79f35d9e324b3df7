//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Integration tests against a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_RetainedRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "homesync-int-pub"
	pub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	topic := pub.Topics().Path("device_states/int/home/light-1")
	if err := pub.PublishRetained(topic, []byte(`{"on":true}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	cfg.Broker.ClientID = "homesync-int-sub"
	sub, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 4)
	err = sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		received <- string(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != `{"on":true}` {
			t.Errorf("retained = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retained message")
	}

	if err := pub.ClearRetained(topic); err != nil {
		t.Fatalf("ClearRetained() error = %v", err)
	}
	select {
	case msg := <-received:
		if msg != "" {
			t.Errorf("cleared payload = %q, want empty", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for clear")
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "homesync-int-sub-track"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := client.Topics().Path("device_nora/int/home/light-1/responses")
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !contains(client.Subscriptions(), topic) {
		t.Error("Subscriptions() missing topic after Subscribe")
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if len(client.Subscriptions()) != 0 {
		t.Errorf("Subscriptions() = %v, want none", client.Subscriptions())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
