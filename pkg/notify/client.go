package notify

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const defaultTimeout = 10 * time.Second

// ClientConfig describes the broker connection.
type ClientConfig struct {
	// Broker defaults to "tcp://localhost:1883".
	Broker   string
	ClientID string
	Username string
	Password string

	// QoS of published notifications. Defaults to 1.
	QoS byte

	// Timeout bounds connect and publish acknowledgements. Defaults to 10s.
	Timeout time.Duration
}

// Client wraps the Paho MQTT client for publishing route notifications.
type Client struct {
	client  paho.Client
	qos     byte
	timeout time.Duration
	mu      sync.Mutex
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(cfg ClientConfig) *Client {
	broker := cfg.Broker
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	return newClient(paho.NewClient(opts), cfg)
}

func newClient(pc paho.Client, cfg ClientConfig) *Client {
	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{client: pc, qos: qos, timeout: timeout}
}

// Ensure Client implements Publisher.
var _ Publisher = (*Client)(nil)

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return &TimeoutError{Op: "connect"}
	}
	return token.Error()
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.timeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// TimeoutError indicates the broker did not acknowledge in time.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	if e.Topic == "" {
		return "mqtt " + e.Op + " timeout"
	}
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
