package mqtt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hallgrove/iohub/internal/infrastructure/config"
)

// Tests requiring a live broker are build-tagged in integration_test.go.
// Run them with:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func testBrokerConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "iohub-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on uninitialised client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestHealthCheckDisconnectedClient(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on uninitialised client should fail")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	t.Run("empty topic", func(t *testing.T) {
		if err := client.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
			t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
		}
	})

	t.Run("invalid qos", func(t *testing.T) {
		if err := client.Publish("iohub/test", []byte("x"), 3, false); err != ErrInvalidQoS {
			t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
		}
	})
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subs: make(map[string]subscription)}

	t.Run("empty topic", func(t *testing.T) {
		err := client.Subscribe("", 1, func(string, []byte) error { return nil })
		if err != ErrInvalidTopic {
			t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
		}
	})

	t.Run("invalid qos", func(t *testing.T) {
		err := client.Subscribe("iohub/test", 3, func(string, []byte) error { return nil })
		if err != ErrInvalidQoS {
			t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
		}
	})
}

func TestClientOptions(t *testing.T) {
	t.Run("plain broker", func(t *testing.T) {
		c := &Client{cfg: testBrokerConfig()}
		opts := c.clientOptions()

		if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
			t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
		}
		if opts.ClientID != "iohub-test" {
			t.Errorf("client ID = %q, want iohub-test", opts.ClientID)
		}
		if opts.WillTopic != "iohub/system/status" {
			t.Errorf("will topic = %q, want iohub/system/status", opts.WillTopic)
		}
		if !opts.WillRetained {
			t.Error("last will should be retained")
		}
	})

	t.Run("tls scheme", func(t *testing.T) {
		cfg := testBrokerConfig()
		cfg.Broker.TLS = true
		cfg.Broker.Port = 8883
		c := &Client{cfg: cfg}
		opts := c.clientOptions()

		if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
			t.Errorf("broker URL = %q, want ssl://127.0.0.1:8883", got)
		}
	})

	t.Run("will payload announces unexpected disconnect", func(t *testing.T) {
		c := &Client{cfg: testBrokerConfig()}
		opts := c.clientOptions()

		var st systemStatus
		if err := json.Unmarshal(opts.WillPayload, &st); err != nil {
			t.Fatalf("will payload is not JSON: %v", err)
		}
		if st.Status != "offline" || st.Reason != "unexpected_disconnect" {
			t.Errorf("will payload = %+v", st)
		}
		if st.ClientID != "iohub-test" {
			t.Errorf("will client_id = %q", st.ClientID)
		}
	})
}

func TestStatusPayload(t *testing.T) {
	var st systemStatus
	if err := json.Unmarshal(statusPayload("online", "iohub", ""), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Status != "online" || st.ClientID != "iohub" {
		t.Errorf("payload = %+v", st)
	}
	if st.Reason != "" {
		t.Errorf("online payload should carry no reason, got %q", st.Reason)
	}
	if st.Timestamp.IsZero() {
		t.Error("payload timestamp not set")
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		builder  func() string
		expected string
	}{
		{
			name: "DeviceState",
			builder: func() string {
				return Topics{}.DeviceState("USB-24714", "digital_input/5")
			},
			expected: "iohub/state/USB-24714/digital_input/5",
		},
		{
			name: "DeviceStatus",
			builder: func() string {
				return Topics{}.DeviceStatus("USB-24714")
			},
			expected: "iohub/status/USB-24714",
		},
		{
			name: "DeviceError",
			builder: func() string {
				return Topics{}.DeviceError("USB-24714")
			},
			expected: "iohub/error/USB-24714",
		},
		{
			name: "SystemStatus",
			builder: func() string {
				return Topics{}.SystemStatus()
			},
			expected: "iohub/system/status",
		},
		{
			name: "DeviceCommand",
			builder: func() string {
				return Topics{}.DeviceCommand("USB-24714", "digital_output/3")
			},
			expected: "iohub/command/USB-24714/digital_output/3",
		},
		{
			name: "AllCommands",
			builder: func() string {
				return Topics{}.AllCommands()
			},
			expected: "iohub/command/#",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.builder(); got != tt.expected {
				t.Errorf("%s() = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}
