package sink

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/helpers"
)

// KafkaSink publishes events keyed by symbol so one symbol always lands on
// one partition and keeps its per-agent order.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(broker, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, ev domain.Event) error {
	line, err := helpers.MarshalLine(ev)
	if err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventSymbol(ev)),
		Value: line,
	})
	if err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func eventSymbol(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.CanonicalEvent:
		return e.Header().Symbol
	case *domain.SpreadEvent:
		return e.Symbol
	}
	return ""
}
