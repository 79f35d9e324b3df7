package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "homesync-test",
		},
		TopicPrefix: "homesync-test",
		QoS:         1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name     string
		topics   Topics
		build    func(Topics) string
		expected string
	}{
		{"path", Topics{Prefix: "hs"}, func(t Topics) string { return t.Path("device_states/u/g/d") }, "hs/device_states/u/g/d"},
		{"path trims slashes", Topics{Prefix: "hs/"}, func(t Topics) string { return t.Path("/a/b/") }, "hs/a/b"},
		{"default prefix", Topics{}, func(t Topics) string { return t.Path("a") }, "homesync/a"},
		{"status", Topics{Prefix: "hs"}, func(t Topics) string { return t.Status("c1") }, "hs/.info/status/c1"},
		{"on disconnect", Topics{Prefix: "hs"}, func(t Topics) string { return t.OnDisconnect("c1") }, "hs/.info/ondisconnect/c1"},
		{"all status", Topics{Prefix: "hs"}, func(t Topics) string { return t.AllStatus() }, "hs/.info/status/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(tt.topics); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTopics_PathOf(t *testing.T) {
	topics := Topics{Prefix: "hs"}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"hs/device_states/u/g/d", "device_states/u/g/d", true},
		{"other/device_states/u/g/d", "", false},
		{"hs/", "", false},
		{"hsx/a", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.PathOf(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PathOf(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.MQTTConfig)
		server   string
		tls      bool
		usesAuth bool
	}{
		{"plain", func(*config.MQTTConfig) {}, "tcp://127.0.0.1:1883", false, false},
		{"tls with auth", func(c *config.MQTTConfig) {
			c.Broker.TLS = true
			c.Broker.Port = 8883
			c.Auth.Username = "user"
			c.Auth.Password = "pw"
		}, "ssl://127.0.0.1:8883", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			opts := clientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.server {
				t.Errorf("Servers = %v, want %s", opts.Servers, tt.server)
			}
			if (opts.TLSConfig != nil) != tt.tls {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.tls)
			}
			if (opts.Username != "") != tt.usesAuth {
				t.Errorf("Username = %q, auth wanted %v", opts.Username, tt.usesAuth)
			}
			if opts.ClientID != "homesync-test" || !opts.AutoReconnect || !opts.CleanSession {
				t.Errorf("ClientID=%q AutoReconnect=%v CleanSession=%v", opts.ClientID, opts.AutoReconnect, opts.CleanSession)
			}
			if opts.MaxReconnectInterval != 5*time.Second {
				t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
			}
		})
	}
}

func TestPresence(t *testing.T) {
	payload := presenceOf("c1", StatusOffline, ReasonLost)

	p, ok := ParsePresence(payload)
	if !ok {
		t.Fatalf("ParsePresence(%s) failed", payload)
	}
	if !p.Offline() || p.ClientID != "c1" || p.Reason != ReasonLost || p.Timestamp.IsZero() {
		t.Errorf("presence = %+v", p)
	}

	online, ok := ParsePresence(presenceOf("c1", StatusOnline, ""))
	if !ok || online.Offline() {
		t.Errorf("online presence = %+v, %v", online, ok)
	}

	for _, bad := range []string{"", "{", `{"client_id":"c1"}`} {
		if _, ok := ParsePresence([]byte(bad)); ok {
			t.Errorf("ParsePresence(%q) = ok, want rejected", bad)
		}
	}
}

func TestClient_Disconnected(t *testing.T) {
	client := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"publish empty topic", func() error { return client.PublishRetained("", []byte("x")) }, ErrInvalidTopic},
		{"publish oversized", func() error { return client.PublishRetained("a", make([]byte, MaxPayloadSize+1)) }, ErrPayloadTooLarge},
		{"publish disconnected", func() error { return client.PublishRetained("a", []byte("x")) }, ErrNotConnected},
		{"clear disconnected", func() error { return client.ClearRetained("a") }, ErrNotConnected},
		{"subscribe empty topic", func() error { return client.Subscribe("", 1, handler) }, ErrInvalidTopic},
		{"subscribe invalid qos", func() error { return client.Subscribe("a", 3, handler) }, ErrSubscribeFailed},
		{"subscribe nil handler", func() error { return client.Subscribe("a", 1, nil) }, ErrSubscribeFailed},
		{"subscribe disconnected", func() error { return client.Subscribe("a", 1, handler) }, ErrNotConnected},
		{"unsubscribe disconnected", func() error { return client.Unsubscribe("a") }, ErrNotConnected},
		{"health check", func() error { return client.HealthCheck(context.Background()) }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if subs := client.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions() = %v, want none", subs)
	}
}

func TestClient_CloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true for uninitialised client")
	}
}

func TestClient_Accessors(t *testing.T) {
	client := newClient(testConfig())
	if client.QoS() != 1 || client.ClientID() != "homesync-test" {
		t.Errorf("QoS() = %d ClientID() = %q", client.QoS(), client.ClientID())
	}
	if got := client.Topics().Path("x"); got != "homesync-test/x" {
		t.Errorf("Topics().Path() = %q", got)
	}
}
