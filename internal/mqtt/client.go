package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
)

// UpdateHandler принимает валидное обновление объекта из фида
type UpdateHandler func(update *models.PropertyUpdate) error

// Client MQTT-подписчик фида обновлений объектов
type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    *logrus.Entry
	parser    *Parser
	handler   UpdateHandler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected bool
	mu        sync.RWMutex
}

// NewClient создает MQTT клиент. Подписка на топик выполняется в
// OnConnect, поэтому переживает реконнекты.
func NewClient(cfg *config.MQTTConfig, logger *logrus.Entry, handler UpdateHandler) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:  cfg,
		logger:  logger,
		parser:  NewParser(logger),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()

		c.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		if token := client.Subscribe(cfg.Topic, 1, c.messageHandler()); token.Wait() && token.Error() != nil {
			c.logger.WithFields(logrus.Fields{
				"topic": cfg.Topic,
				"error": token.Error(),
			}).Error("Failed to subscribe to topic")
		} else {
			c.logger.WithField("topic", cfg.Topic).Info("Subscribed to property feed")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect подключается к брокеру и ждет подтверждения подключения
func (c *Client) Connect() error {
	c.logger.WithField("broker", c.config.URL).Info("Connecting to MQTT broker")

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("connection timeout")
		case <-ticker.C:
			c.mu.RLock()
			connected := c.connected
			c.mu.RUnlock()
			if connected {
				return nil
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// Disconnect отключается от брокера, дождавшись обработчиков в полете
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")

	c.cancel()

	if c.client.IsConnected() {
		c.client.Disconnect(1000)
	}

	c.wg.Wait()
	metrics.MQTTConnectionStatus.Set(0)
	c.logger.Info("MQTT client disconnected")
}

// IsConnected проверяет статус подключения
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

func (c *Client) messageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()

			topic := msg.Topic()
			payload := msg.Payload()

			update, err := c.parser.Parse(topic, payload)
			if err != nil {
				c.logger.WithFields(logrus.Fields{
					"topic":        topic,
					"error":        err,
					"payload_size": len(payload),
				}).Error("Failed to parse feed message")
				metrics.MQTTParseErrors.Inc()
				return
			}
			if update == nil {
				return
			}

			if c.handler == nil {
				c.logger.WithField("topic", topic).Warn("Update handler is nil")
				return
			}

			if err := c.handler(update); err != nil {
				c.logger.WithFields(logrus.Fields{
					"topic":     topic,
					"operation": update.Operation,
					"id":        update.Property.ID,
					"error":     err,
				}).Error("Update handler failed")
				return
			}

			metrics.MQTTMessagesReceived.WithLabelValues(update.Operation).Inc()
			c.logger.WithFields(logrus.Fields{
				"topic":     topic,
				"operation": update.Operation,
				"id":        update.Property.ID,
			}).Debug("Feed update queued")
		}()
	}
}
