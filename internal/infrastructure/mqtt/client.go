package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hallgrove/iohub/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial broker handshake.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds the wait for a publish/subscribe acknowledgement.
	ackTimeout = 5 * time.Second

	// disconnectQuiesceMs is how long Close lets in-flight messages drain.
	disconnectQuiesceMs = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2
)

// Logger is the slice of logging.Logger the client needs for reporting
// handler failures.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. Handlers run on paho's
// router goroutines and must not block for long. A returned error is
// logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Client is the broker connection shared by the telemetry pump (outbound
// device state) and the command listener (inbound writes).
//
// All methods are safe for concurrent use. Subscriptions made through
// Subscribe are tracked and re-established after a reconnect.
type Client struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client

	mu           sync.RWMutex // guards the fields below
	connected    bool
	onConnect    func()
	onDisconnect func(error)
	logger       Logger

	subMu sync.Mutex
	subs  map[string]subscription
}

// subscription remembers what to restore after a reconnect.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker described by cfg, arms the Last Will on the
// system status topic and announces the daemon as online.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, subs: make(map[string]subscription)}
	c.client = pahomqtt.NewClient(c.clientOptions())

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: no broker answer within %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the client connected
	// here so callers can publish as soon as Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// clientOptions translates the config into paho client options: broker
// URL, credentials, TLS, auto-reconnect with backoff, and the Last Will
// the broker publishes if the daemon dies without saying goodbye.
func (c *Client) clientOptions() *pahomqtt.ClientOptions {
	cfg := c.cfg

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetWill(Topics{}.SystemStatus(),
		string(statusPayload("offline", cfg.Broker.ClientID, "unexpected_disconnect")), 1, true)

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })

	return opts
}

// systemStatus is the JSON body published on the system status topic,
// both as a live announcement and as the Last Will.
type systemStatus struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(systemStatus{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return b
}

// handleConnect runs on every (re)connect: restores tracked subscriptions
// and republishes the online status.
func (c *Client) handleConnect() {
	c.mu.Lock()
	c.connected = true
	cb := c.onConnect
	c.mu.Unlock()

	c.resubscribe()
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload("online", c.cfg.Broker.ClientID, ""))

	if cb != nil {
		cb()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	cb := c.onDisconnect
	c.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// resubscribe re-establishes every tracked subscription. Failures are
// not reported here; the broker retries on the next reconnect.
func (c *Client) resubscribe() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.route(sub.handler))
	}
}

// Close announces a graceful shutdown on the status topic, lets pending
// messages drain and disconnects. Safe on an unconnected client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(ackTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports whether the broker connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on connect and every
// reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger wires handler failure reporting. Without it, handler errors
// and panics are swallowed.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// route adapts a MessageHandler to paho, adding panic recovery so a bad
// inbound message cannot take the router down.
func (c *Client) route(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
