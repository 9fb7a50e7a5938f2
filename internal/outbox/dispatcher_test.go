package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type capturingProducer struct {
	written map[string][]kafka.Message
	err     error
}

func (p *capturingProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	if p.written == nil {
		p.written = make(map[string][]kafka.Message)
	}
	p.written[topic] = append(p.written[topic], msgs...)
	return nil
}

type countingRegistry struct {
	id    int
	calls int
}

func (r *countingRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, nil
}

func outboxMessage(eventID int64, eventType, topic, key string) Message {
	return Message{
		EventID:       eventID,
		AggregateType: "suggestion",
		AggregateID:   key,
		EventType:     eventType,
		Topic:         topic,
		SchemaSubject: topic + "-value",
		PartitionKey:  key,
		Payload:       json.RawMessage(`{"suggestion_id":"` + key + `"}`),
	}
}

func TestDeliverFramesPayloadWithSchemaID(t *testing.T) {
	producer := &capturingProducer{}
	registry := &countingRegistry{id: 7}
	d := NewDispatcher(nil, producer, registry, 0, 10)

	msg := outboxMessage(1, "suggestion.accepted", "suggestion_events", "sg-1")
	if err := d.deliver(context.Background(), []Message{msg}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	records := producer.written["suggestion_events"]
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	frame := records[0].Value
	if frame[0] != 0 {
		t.Fatalf("expected magic byte 0, got %d", frame[0])
	}
	if id := binary.BigEndian.Uint32(frame[1:5]); id != 7 {
		t.Fatalf("expected schema id 7 in frame, got %d", id)
	}
	if string(frame[5:]) != string(msg.Payload) {
		t.Fatalf("payload mismatch: %s", frame[5:])
	}
	if string(records[0].Key) != "sg-1" {
		t.Fatalf("expected partition key sg-1, got %s", records[0].Key)
	}
}

func TestDeliverCachesSchemaLookups(t *testing.T) {
	producer := &capturingProducer{}
	registry := &countingRegistry{id: 3}
	d := NewDispatcher(nil, producer, registry, 0, 10)

	batch := []Message{
		outboxMessage(1, "suggestion.accepted", "suggestion_events", "sg-1"),
		outboxMessage(2, "suggestion.accepted", "suggestion_events", "sg-2"),
		outboxMessage(3, "activity.received", "activity_events", "ev-1"),
	}
	if err := d.deliver(context.Background(), batch); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if err := d.deliver(context.Background(), batch); err != nil {
		t.Fatalf("second deliver: %v", err)
	}

	// One lookup per distinct subject, cached across batches.
	if registry.calls != 2 {
		t.Fatalf("expected 2 registry calls, got %d", registry.calls)
	}
	if got := len(producer.written["suggestion_events"]); got != 4 {
		t.Fatalf("expected 4 suggestion_events records, got %d", got)
	}
	if got := len(producer.written["activity_events"]); got != 2 {
		t.Fatalf("expected 2 activity_events records, got %d", got)
	}
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	d := NewDispatcher(nil, &capturingProducer{}, &countingRegistry{}, 0, 10)

	err := d.deliver(context.Background(), []Message{
		outboxMessage(1, "suggestion.retracted", "suggestion_events", "sg-1"),
	})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestDeliverPropagatesProducerFailure(t *testing.T) {
	producer := &capturingProducer{err: errors.New("broker unavailable")}
	d := NewDispatcher(nil, producer, &countingRegistry{id: 1}, 0, 10)

	err := d.deliver(context.Background(), []Message{
		outboxMessage(1, "suggestion.accepted", "suggestion_events", "sg-1"),
	})
	if err == nil || !errors.Is(err, producer.err) {
		t.Fatalf("expected producer error, got %v", err)
	}
}
