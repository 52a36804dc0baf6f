package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/aggregator"
	"storewatch-ingest/internal/config"
	"storewatch-ingest/internal/consumer"
	"storewatch-ingest/internal/database"
	"storewatch-ingest/internal/demo"
	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/mqttclient"
	"storewatch-ingest/internal/normalizer"
	"storewatch-ingest/internal/poller"
	"storewatch-ingest/internal/redisutil"
	"storewatch-ingest/internal/repository"
	"storewatch-ingest/internal/signals"
	"storewatch-ingest/internal/zonemap"
)

// flushInterval 内存状态落库的周期
const flushInterval = 60 * time.Second

// demoSeedCount 启动时演示种子批次的事件数
const demoSeedCount = 32

// IngestService 事件接入服务
//
// 接入路径：MQTT → Redis Streams → 状态管理器；HTTP 轮询直达状态管理器。
// 内存状态周期性与 PostgreSQL 对账。
type IngestService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client

	resolver       *zonemap.Resolver
	eventAdapter   *adapter.Adapter
	transform      *geometry.Transform
	state          *aggregator.StateManager
	eventsRepo     *repository.EventsRepository
	mqttClient     *mqttclient.Client
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
	feedPoller     *poller.FeedPoller
	demoGen        *demo.Generator
}

// NewIngestService 创建事件接入服务
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := redisutil.NewRedisClient(&cfg.Redis)
	if err := redisutil.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	resolver, err := zonemap.LoadFile(cfg.Ingest.ZoneMapPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone map: %w", err)
	}

	// 归一化流水线
	transform := geometry.NewTransform(geometry.DefaultReferencePoints)
	eventAdapter := adapter.NewAdapter(resolver, transform, cfg.Ingest.FallbackStoreID, models.SourceAPI)
	signalParser := signals.NewParser(eventAdapter, models.SourceAPI)
	feedNormalizer := normalizer.NewFeedNormalizer(eventAdapter, signalParser, cfg.Ingest.MaxEvents)

	kv := aggregator.NewRedisKVStore(redisClient)
	state := aggregator.NewStateManager(feedNormalizer, kv, logger, resolver.StoreID(), cfg.Ingest.MaxEvents)

	s := &IngestService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		resolver:     resolver,
		eventAdapter: eventAdapter,
		transform:    transform,
		state:        state,
		eventsRepo:   repository.NewEventsRepository(db, logger),
	}

	s.streamConsumer = consumer.NewStreamConsumer(
		redisClient,
		state,
		logger,
		cfg.Ingest.EventStream,
		cfg.Ingest.ConsumerGroup,
		cfg.Ingest.ConsumerName,
		int64(cfg.Ingest.BatchSize),
	)

	// MQTT 接入可选，连不上不拦截其余链路
	if cfg.MQTT.Broker != "" {
		mqttClient, err := mqttclient.NewClient(cfg, logger)
		if err != nil {
			logger.Warn("MQTT broker unavailable, edge ingest disabled",
				zap.String("broker", cfg.MQTT.Broker),
				zap.Error(err),
			)
		} else {
			s.mqttClient = mqttClient
			s.mqttConsumer = consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)
		}
	}

	if cfg.Ingest.Poll.URL != "" {
		s.feedPoller = poller.NewFeedPoller(
			cfg.Ingest.Poll.URL,
			cfg.Ingest.Poll.APIKey,
			time.Duration(cfg.Ingest.Poll.Interval)*time.Second,
			state,
			logger,
		)
	}

	if cfg.Ingest.DemoSeed {
		s.demoGen = demo.NewGenerator(resolver, 0)
	}

	return s, nil
}

// State 内存状态管理器（查询接口）
func (s *IngestService) State() *aggregator.StateManager {
	return s.state
}

// Start 启动服务，阻塞到 ctx 取消
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service",
		zap.String("store_id", s.resolver.StoreID()),
		zap.Strings("zones", s.resolver.ZoneIDs()),
		zap.Bool("mqtt_enabled", s.mqttConsumer != nil),
		zap.Bool("poller_enabled", s.feedPoller != nil),
		zap.Bool("demo_seed", s.demoGen != nil),
	)

	if err := s.state.Restore(ctx); err != nil {
		s.logger.Warn("Failed to restore state snapshot", zap.Error(err))
	}

	wasEmpty := len(s.state.Events()) == 0

	// 标定照片种子事件带 photo-log- 前缀，replace 重同步时保留
	photoSeed := demo.BuildPhotoSeedEvents(s.eventAdapter, s.transform, s.resolver.Document(), time.Now().UnixMilli())
	if len(photoSeed) > 0 {
		s.state.ApplyBatch(ctx, models.SyncBatch{
			Mode:   models.SyncModeMerge,
			Upsert: photoSeed,
		})
		s.logger.Info("Applied photo seed events",
			zap.Int("count", len(photoSeed)),
		)
	}

	if s.demoGen != nil && wasEmpty {
		batch := s.demoGen.Seed(ctx, s.state, demoSeedCount)
		s.logger.Info("Seeded demo events",
			zap.Int("count", len(batch.Upsert)),
		)
	}

	errChan := make(chan error, 3)

	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("stream consumer: %w", err)
		}
	}()

	if s.mqttConsumer != nil {
		go func() {
			if err := s.mqttConsumer.Start(ctx); err != nil {
				errChan <- fmt.Errorf("mqtt consumer: %w", err)
			}
		}()
	}

	if s.feedPoller != nil {
		go func() {
			if err := s.feedPoller.Start(ctx); err != nil {
				errChan <- fmt.Errorf("feed poller: %w", err)
			}
		}()
	}

	go s.flushLoop(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务并做最后一次落库
func (s *IngestService) Stop(ctx context.Context) error {
	if s.mqttConsumer != nil {
		_ = s.mqttConsumer.Stop(ctx)
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := s.flushToDatabase(ctx); err != nil {
		s.logger.Error("Final database flush failed", zap.Error(err))
	}

	if err := redisutil.Close(s.redisClient); err != nil {
		s.logger.Error("Error closing redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Error closing database", zap.Error(err))
	}

	s.logger.Info("Ingest service stopped")
	return nil
}

// flushLoop 周期性把内存状态落库
func (s *IngestService) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushToDatabase(ctx); err != nil {
				s.logger.Error("Database flush failed", zap.Error(err))
			}
		}
	}
}

// flushToDatabase 将内存状态与 PostgreSQL 对账
//
// upsert 当前事件与时间线，再删掉库中已不在内存状态里的事件行。
func (s *IngestService) flushToDatabase(ctx context.Context) error {
	storeID := s.resolver.StoreID()
	events := s.state.Events()

	if err := s.eventsRepo.UpsertEvents(ctx, events); err != nil {
		return err
	}
	if err := s.eventsRepo.AppendTimelineEntries(ctx, storeID, s.state.Timeline()); err != nil {
		return err
	}

	stored, err := s.eventsRepo.RecentEvents(ctx, storeID, s.config.Ingest.MaxEvents*2)
	if err != nil {
		return err
	}

	live := make(map[string]bool, len(events))
	for _, e := range events {
		live[e.ID] = true
	}
	var stale []string
	for _, e := range stored {
		if !live[e.ID] {
			stale = append(stale, e.ID)
		}
	}
	if err := s.eventsRepo.RemoveEvents(ctx, storeID, stale); err != nil {
		return err
	}

	s.logger.Debug("Flushed state to database",
		zap.Int("events", len(events)),
		zap.Int("stale_removed", len(stale)),
	)
	return nil
}
