package mqtt

import (
	"github.com/sweeney/button-sensor/internal/debounce"
)

// Message is one publish as the broker would see it.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// TopicPrefix is used to route Messages; DefaultTopicPrefix if empty.
	TopicPrefix string

	// Messages records every publish in order across both topics.
	Messages []Message

	// Edges contains all button edges that were published.
	Edges []debounce.Edge

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the button edge.
func (f *FakePublisher) Publish(edge debounce.Edge) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Edges = append(f.Edges, edge)

	payload, err := FormatPayload(edge)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	f.Messages = append(f.Messages, Message{Topic: EventsTopic(f.prefix()), Payload: payload})

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	f.Messages = append(f.Messages, Message{Topic: SystemTopic(f.prefix()), Payload: payload, Retained: event.Retained})

	return nil
}

func (f *FakePublisher) prefix() string {
	if f.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return f.TopicPrefix
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Messages = nil
	f.Edges = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
