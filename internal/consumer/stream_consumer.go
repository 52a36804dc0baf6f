package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"storewatch-ingest/internal/aggregator"
	"storewatch-ingest/internal/redisutil"
)

// StreamConsumer 从 Redis Streams 消费设备事件，送入状态管理器
type StreamConsumer struct {
	redisClient  *redis.Client
	state        *aggregator.StateManager
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
}

// NewStreamConsumer 创建流消费者
func NewStreamConsumer(
	redisClient *redis.Client,
	state *aggregator.StateManager,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *StreamConsumer {
	return &StreamConsumer{
		redisClient:  redisClient,
		state:        state,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
	}
}

// Start 启动流消费者
func (c *StreamConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := redisutil.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费事件（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeEvents(ctx); err != nil {
				c.logger.Error("Failed to consume events",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				// 成功时重置退避时间
				backoffDuration = time.Second
			}
		}
	}
}

// consumeEvents 消费一批事件
func (c *StreamConsumer) consumeEvents(ctx context.Context) error {
	messages, err := redisutil.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process event",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 继续处理下一条消息，不中断
		} else {
			if err := c.ackMessage(ctx, msg.ID); err != nil {
				c.logger.Warn("Failed to ack message",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// processMessage 处理单条流消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg redisutil.StreamMessage) error {
	envelope, err := c.parseEnvelope(msg)
	if err != nil {
		return fmt.Errorf("failed to parse envelope: %w", err)
	}

	batch := c.state.ApplyBytes(ctx, envelope.Payload)

	c.logger.Info("Processed device event",
		zap.String("device_id", envelope.DeviceID),
		zap.String("store_id", envelope.StoreID),
		zap.String("sync_mode", string(batch.Mode)),
		zap.Int("upserts", len(batch.Upsert)),
		zap.Int("removed", len(batch.RemoveIDs)),
	)

	return nil
}

// parseEnvelope 解析流消息中的信封
// data 字段不是信封格式时，整体当作设备原始负载
func (c *StreamConsumer) parseEnvelope(msg redisutil.StreamMessage) (*IngestEnvelope, error) {
	dataStr, ok := msg.Values["data"].(string)
	if !ok || dataStr == "" {
		return nil, fmt.Errorf("missing data field in message %s", msg.ID)
	}

	var envelope IngestEnvelope
	if err := json.Unmarshal([]byte(dataStr), &envelope); err == nil && len(envelope.Payload) > 0 {
		return &envelope, nil
	}

	return &IngestEnvelope{
		DeviceID: "unknown",
		Payload:  json.RawMessage(dataStr),
	}, nil
}

// ackMessage 确认消息
func (c *StreamConsumer) ackMessage(ctx context.Context, messageID string) error {
	return c.redisClient.XAck(ctx, c.stream, c.groupName, messageID).Err()
}
