// Package mqttgw is the transport adapter between the MQTT broker and the
// in-process bus: it subscribes to the two device-family upload patterns,
// republishes raw payloads on the ingress topic, dispatches them to the
// family parsers, and exposes a publish path for the command translator's
// download topics.
package mqttgw

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn      mqtt.Client
	topics    []string
	connected atomic.Bool
	log       zerolog.Logger
	handler   MessageHandler

	publishTimeout time.Duration
}

type Options struct {
	BrokerURL       string
	ClientID        string
	Topics          []string
	Username        string
	Password        string
	ConnectTimeout  time.Duration
	ReconnectPeriod time.Duration
	Log             zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ReconnectPeriod <= 0 {
		opts.ReconnectPeriod = 5 * time.Second
	}
	c := &Client{
		topics:         opts.Topics,
		log:            opts.Log,
		publishTimeout: 5 * time.Second,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetConnectRetryInterval(opts.ReconnectPeriod).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", opts.BrokerURL, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler = h
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Strs("topics", c.topics).Msg("mqtt connected, subscribing")

	filters := make(map[string]byte, len(c.topics))
	for _, t := range c.topics {
		filters[t] = 0
	}
	token := client.SubscribeMultiple(filters, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if c.handler != nil {
		c.handler(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// Publish sends payload to topic with the given QoS, waiting at most the
// publish timeout for broker acknowledgement.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	token := c.conn.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out after %s", topic, c.publishTimeout)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// SplitTopics splits a comma-separated subscribe-pattern list.
func SplitTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
