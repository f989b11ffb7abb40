package outputs

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const kafkaWriteTimeout = 10 * time.Second

// kafkaMessageWriter is the part of kafka.Writer used here.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaOutput produces one message per batch, keyed by host name so one
// station's batches stay ordered on a partition.
type kafkaOutput struct {
	name     string
	host     string
	encoding string
	limits   types.LimitChecker
	writer   kafkaMessageWriter
}

func newKafka(name string, p config.Params, host string, lc types.LimitChecker) (*kafkaOutput, error) {
	brokers, err := p.Strings("brokers")
	if err != nil {
		return nil, err
	}
	if len(brokers) == 0 {
		return nil, &config.MissingParamError{Key: "brokers"}
	}
	topic, err := p.RequiredString("topic")
	if err != nil {
		return nil, err
	}
	enc := p.String("encoding", "json")
	if err := validEncoding(enc); err != nil {
		return nil, err
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           kafkaWriteTimeout,
	}
	return &kafkaOutput{name: name, host: host, encoding: enc, limits: lc, writer: w}, nil
}

func (o *kafkaOutput) Name() string { return o.name }

func (o *kafkaOutput) Write(ctx context.Context, b *types.Batch) error {
	payload, err := encode(o.encoding, newMessage(b, o.host, o.limits))
	if err != nil {
		return err
	}
	return o.send(ctx, "batch", b.Time, payload)
}

func (o *kafkaOutput) WriteMetadata(ctx context.Context, meta types.Metadata) error {
	payload, err := encode(o.encoding, meta)
	if err != nil {
		return err
	}
	return o.send(ctx, "metadata", meta.StartTime, payload)
}

func (o *kafkaOutput) send(ctx context.Context, kind string, at time.Time, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	return o.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(o.host),
		Value:   payload,
		Time:    at,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	})
}

func (o *kafkaOutput) Close() error { return o.writer.Close() }
