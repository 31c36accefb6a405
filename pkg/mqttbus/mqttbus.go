package mqttbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
}

const disconnectQuiesceMS = 250

// Connect dials the broker, retrying with exponential backoff, and
// disconnects when ctx is cancelled.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	const maxRetries = 5

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("mqtt connect failed", "broker", connAddr, "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", connAddr, err)
	}
	logger.Info("mqtt connected", "broker", connAddr)

	go func() {
		<-ctx.Done()
		Close(client)
	}()
	return client, nil
}

func Close(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesceMS)
	}
}
