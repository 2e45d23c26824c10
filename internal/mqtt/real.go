package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/button-sensor/internal/debounce"
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// BufferSize is the number of messages kept while disconnected.
	BufferSize int
}

const defaultBufferSize = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed, oldest first, once it is
// back. Publishes made while a replay is running join the queue behind it so
// the broker sees edges in order.
//
// A send that fails while connected is returned to the caller and not
// retried here: a QoS 1 message that timed out may still be delivered from
// paho's own store, and retrying it would duplicate the edge.
type RealPublisher struct {
	client      paho.Client
	eventsTopic string
	systemTopic string

	mu        sync.Mutex
	queue     *ringBuffer
	connected bool
	replaying bool
	everUp    bool

	sendMu sync.Mutex // serialises writes to the broker
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting. It does not fail if the broker is unreachable; the client keeps
// retrying in the background.
func NewRealPublisher(o Options) *RealPublisher {
	p := newPublisher(o)

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.systemTopic, WillPayload(), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, queueing until connected", o.Broker)
	} else if err := token.Error(); err != nil {
		log.Printf("mqtt: connect to %s: %v", o.Broker, err)
	}
	return p
}

// newPublisher builds a disconnected publisher with no client.
func newPublisher(o Options) *RealPublisher {
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	return &RealPublisher{
		eventsTopic: EventsTopic(o.TopicPrefix),
		systemTopic: SystemTopic(o.TopicPrefix),
		queue:       newRingBuffer(o.BufferSize),
	}
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.replaying = true
	if p.everUp {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		p.queue.push(queuedMsg{topic: p.systemTopic, payload: payload, qos: 1})
	}
	p.everUp = true
	p.mu.Unlock()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	// Drain until empty: messages published during the replay were queued
	// behind it and go out in the same pass.
	for {
		p.mu.Lock()
		pending, dropped := p.queue.drain()
		if len(pending) == 0 {
			p.replaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if dropped > 0 {
			log.Printf("mqtt: %d queued messages were dropped while disconnected", dropped)
		}
		log.Printf("mqtt: connected, replaying %d queued messages", len(pending))
		for _, m := range pending {
			if err := p.send(m); err != nil {
				log.Printf("mqtt: replay to %s: %v", m.topic, err)
			}
		}
	}
}

func (p *RealPublisher) onConnectionLost(c paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

// Publish sends a button edge to the MQTT broker.
func (p *RealPublisher) Publish(edge debounce.Edge) error {
	payload, err := FormatPayload(edge)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: edges are rare and each one matters.
	return p.publish(queuedMsg{topic: p.eventsTopic, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(queuedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m queuedMsg) error {
	p.mu.Lock()
	if !p.connected || p.replaying {
		if p.queue.push(m) && p.queue.dropped == 1 {
			log.Printf("mqtt: queue full (%d messages), dropping oldest", p.queue.len())
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.send(m)
}

func (p *RealPublisher) send(m queuedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
