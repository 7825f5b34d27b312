// Package ingest publishes provider location samples and request lifecycle
// events to Kafka for downstream consumers.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/marketplace-dispatch/internal/models"
)

type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

func (p *LocationProducer) PublishLocation(ctx context.Context, prov models.Provider) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(prov)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(prov.ID), Value: b})
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

func (p *EventProducer) PublishRequestEvent(ctx context.Context, ev models.RequestEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RequestID), Value: b})
}

func (p *EventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
