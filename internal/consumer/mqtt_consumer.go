package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"storewatch-ingest/internal/config"
	"storewatch-ingest/internal/mqttclient"
	"storewatch-ingest/internal/redisutil"
)

// IngestEnvelope 边缘上行消息的标准化信封
// Payload 保留设备原始字节，由下游归一化流水线解析
type IngestEnvelope struct {
	DeviceID  string          `json:"device_id"`
	StoreID   string          `json:"store_id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// MQTTConsumer 订阅边缘设备事件主题，转发到 Redis Streams
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqttclient.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqttclient.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.MQTT.EventTopic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to event topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.config.MQTT.EventTopic),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.MQTT.EventTopic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理 MQTT 消息
// 主题格式: storewatch/{device_id}/events
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	deviceID := parts[1]

	// 边缘节点偶发截断帧，不入流
	if !json.Valid(payload) {
		return fmt.Errorf("invalid JSON payload from device %s", deviceID)
	}

	envelope := IngestEnvelope{
		DeviceID:  deviceID,
		StoreID:   c.config.Ingest.FallbackStoreID,
		Topic:     topic,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now().Unix(),
	}

	streamID, err := redisutil.PublishJSONToStream(context.Background(), c.redisClient, c.config.Ingest.EventStream, envelope)
	if err != nil {
		c.logger.Error("Failed to publish to Redis Streams",
			zap.String("stream", c.config.Ingest.EventStream),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	c.logger.Info("Published device event to Redis Streams",
		zap.String("device_id", deviceID),
		zap.String("stream", c.config.Ingest.EventStream),
		zap.String("stream_id", streamID),
	)

	return nil
}
