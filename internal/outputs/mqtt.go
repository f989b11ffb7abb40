package outputs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// mqttPublisher is the part of mqtt.Client used here.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// mqttOutput publishes one message per batch.
type mqttOutput struct {
	name     string
	host     string
	topic    string
	qos      byte
	retained bool
	encoding string
	limits   types.LimitChecker
	client   mqttPublisher
}

func newMQTT(name string, p config.Params, host string, lc types.LimitChecker) (*mqttOutput, error) {
	o, err := mqttFromParams(name, p, host, lc)
	if err != nil {
		return nil, err
	}
	broker, err := p.RequiredString("broker")
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(p.String("client_id", "airpi-"+host)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(mqttConnectTimeout)
	if u := p.String("username", ""); u != "" {
		opts.SetUsername(u)
		opts.SetPassword(p.Secret("password"))
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt: connection lost", "output", name, "err", err)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		slog.Warn("mqtt: broker not reachable yet, retrying in background", "output", name, "broker", broker)
	} else if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, err)
	}
	o.client = client
	return o, nil
}

func mqttFromParams(name string, p config.Params, host string, lc types.LimitChecker) (*mqttOutput, error) {
	topic, err := p.RequiredString("topic")
	if err != nil {
		return nil, err
	}
	qos, err := p.Int("qos", 0)
	if err != nil {
		return nil, err
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("qos %d: must be 0, 1 or 2", qos)
	}
	retained, err := p.Bool("retained", false)
	if err != nil {
		return nil, err
	}
	enc := p.String("encoding", "json")
	if err := validEncoding(enc); err != nil {
		return nil, err
	}
	return &mqttOutput{
		name:     name,
		host:     host,
		topic:    expandFilename(topic, host, time.Time{}),
		qos:      byte(qos),
		retained: retained,
		encoding: enc,
		limits:   lc,
	}, nil
}

func (o *mqttOutput) Name() string { return o.name }

func (o *mqttOutput) Write(ctx context.Context, b *types.Batch) error {
	payload, err := encode(o.encoding, newMessage(b, o.host, o.limits))
	if err != nil {
		return err
	}
	return o.publish(ctx, o.topic, payload)
}

// WriteMetadata publishes the run metadata retained on <topic>/metadata.
func (o *mqttOutput) WriteMetadata(ctx context.Context, meta types.Metadata) error {
	payload, err := encode(o.encoding, meta)
	if err != nil {
		return err
	}
	tok := o.client.Publish(o.topic+"/metadata", o.qos, true, payload)
	return waitToken(ctx, tok)
}

func (o *mqttOutput) publish(ctx context.Context, topic string, payload []byte) error {
	return waitToken(ctx, o.client.Publish(topic, o.qos, o.retained, payload))
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("mqtt: publish timed out after %s", mqttPublishTimeout)
	}
}

func (o *mqttOutput) Close() error {
	o.client.Disconnect(mqttQuiesceMillis)
	return nil
}
