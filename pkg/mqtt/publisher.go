// Package mqtt publishes run telemetry to an MQTT broker. The trainer uses
// it as an optional append-only summary sink next to the local JSONL stream.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connTimeout    = 10
	reconnTimeout  = 1
	disconnTimeout = 250
)

var (
	errPublishTimeout = errors.New("failed to publish due to timeout reached")
	errEmptyTopic     = errors.New("empty topic")
	errEmptyID        = errors.New("empty ID")
)

type publisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// Publisher is the outbound-only broker surface. Training processes never
// subscribe; coordination happens through the parameter holder and the
// checkpoint store, not the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
	Disconnect(ctx context.Context) error
}

func NewPublisher(url string, qos byte, id string, timeout time.Duration, logger *slog.Logger) (Publisher, error) {
	if id == "" {
		return nil, errEmptyID
	}

	client, err := newClient(url, id, timeout, logger)
	if err != nil {
		return nil, err
	}

	return &publisher{
		client:  client,
		qos:     qos,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (p *publisher) Publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return errEmptyTopic
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, p.qos, false, data)
	if token.Error() != nil {
		return token.Error()
	}

	if ok := token.WaitTimeout(p.timeout); !ok {
		return errPublishTimeout
	}

	return nil
}

func (p *publisher) Disconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.client.Disconnect(disconnTimeout)

		return nil
	}
}

func newClient(address, id string, timeout time.Duration, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(address).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout * time.Second).
		SetMaxReconnectInterval(reconnTimeout * time.Minute)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connection established")
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		args := []any{}
		if err != nil {
			args = append(args, slog.Any("error", err))
		}

		logger.Info("MQTT connection lost", args...)
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, options *mqtt.ClientOptions) {
		args := []any{}
		if options != nil {
			args = append(args, slog.String("client_id", options.ClientID))
		}

		logger.Info("MQTT reconnecting", args...)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if token.Error() != nil {
		return nil, errors.Join(errors.New("failed to connect to MQTT broker"), token.Error())
	}

	if ok := token.WaitTimeout(timeout); !ok {
		return nil, fmt.Errorf("timeout reached while connecting to MQTT broker at %s", address)
	}

	return client, nil
}
