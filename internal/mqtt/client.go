// Package mqtt lets a broker trigger world loads and receive their results.
package mqtt

import (
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const opTimeout = 10 * time.Second

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// StatusTopic, when set, carries a retained "online" message while
	// connected and "offline" as the last will.
	StatusTopic string
}

// Client wraps the Paho MQTT client.
type Client struct {
	client paho.Client
	opts   Options
	mu     sync.Mutex
}

// NewClient creates a client but does not connect.
func NewClient(opts Options) *Client {
	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if opts.Username != "" {
		po.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	if opts.StatusTopic != "" {
		po.SetWill(opts.StatusTopic, "offline", 1, true)
		po.SetOnConnectHandler(func(c paho.Client) {
			c.Publish(opts.StatusTopic, 1, true, "online")
		})
	}
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("mqtt: connection to %s lost: %v", opts.Broker, err)
	})

	return &Client{client: paho.NewClient(po), opts: opts}
}

// Connect attempts to connect to the broker without blocking indefinitely.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Connect()
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "connect", Topic: c.opts.Broker}
	}
	return token.Error()
}

// Subscribe subscribes to a topic at QoS 1.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "subscribe", Topic: topic}
	}
	return token.Error()
}

// Publish sends payload at QoS 1.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(opTimeout) {
		return &TimeoutError{Op: "publish", Topic: topic}
	}
	return token.Error()
}

// Disconnect marks the client offline and disconnects from the broker.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.StatusTopic != "" && c.client.IsConnected() {
		c.client.Publish(c.opts.StatusTopic, 1, true, "offline").WaitTimeout(time.Second)
	}
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// TimeoutError indicates a broker operation did not complete in time.
type TimeoutError struct {
	Op    string
	Topic string
}

func (e *TimeoutError) Error() string {
	return "mqtt " + e.Op + " timeout: " + e.Topic
}
