package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink forwards pipeline events to a Kafka topic. It consumes its own
// subscription, so backpressure from the broker is absorbed by the
// subscriber queue like any other slow consumer.
type KafkaSink struct {
	logger *slog.Logger
	writer *kafka.Writer
	sub    *Subscription
	done   chan struct{}
}

// NewKafkaSink starts a sink writing every published event to the topic.
func NewKafkaSink(logger *slog.Logger, pub *Publisher, brokers []string, topic string) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	sink := &KafkaSink{
		logger: logger.With(slog.String("component", "kafka-sink")),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		sub:  pub.Subscribe(),
		done: make(chan struct{}),
	}
	go sink.run()
	return sink
}

func (k *KafkaSink) run() {
	defer close(k.done)
	for ev := range k.sub.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			k.logger.Warn("marshal event", slog.Any("error", err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = k.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.Kind),
			Value: payload,
		})
		cancel()
		if err != nil {
			k.logger.Warn("kafka write failed", slog.String("kind", string(ev.Kind)), slog.Any("error", err))
		}
	}
}

// Close detaches the subscription, drains the run loop, and closes the
// writer.
func (k *KafkaSink) Close() error {
	k.sub.Close()
	<-k.done
	return k.writer.Close()
}
