package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"storewatch-ingest/internal/aggregator"
)

// FeedPoller 周期拉取告警 API，送入状态管理器
// WebSocket/SSE 不可用的门店走这条兜底链路
type FeedPoller struct {
	httpClient *resty.Client
	state      *aggregator.StateManager
	logger     *zap.Logger
	feedURL    string
	interval   time.Duration
}

// NewFeedPoller 创建告警源轮询器
func NewFeedPoller(feedURL, apiKey string, interval time.Duration, state *aggregator.StateManager, logger *zap.Logger) *FeedPoller {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		client.SetHeader("x-api-key", apiKey)
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &FeedPoller{
		httpClient: client,
		state:      state,
		logger:     logger,
		feedURL:    feedURL,
		interval:   interval,
	}
}

// Start 启动轮询循环，立即执行首次拉取
func (p *FeedPoller) Start(ctx context.Context) error {
	if p.feedURL == "" {
		p.logger.Info("Feed poller disabled: no feed URL configured")
		<-ctx.Done()
		return nil
	}

	p.logger.Info("Feed poller started",
		zap.String("feed_url", p.feedURL),
		zap.Duration("interval", p.interval),
	)

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce 拉取一次告警源并应用
func (p *FeedPoller) pollOnce(ctx context.Context) {
	payload, err := p.fetch(ctx)
	if err != nil {
		p.logger.Error("Failed to poll alert feed",
			zap.String("feed_url", p.feedURL),
			zap.Error(err),
		)
		return
	}

	batch := p.state.ApplyBytes(ctx, payload)
	p.logger.Debug("Applied polled feed batch",
		zap.String("sync_mode", string(batch.Mode)),
		zap.Int("upserts", len(batch.Upsert)),
		zap.Int("removed", len(batch.RemoveIDs)),
	)
}

// fetch 拉取告警源原始负载
func (p *FeedPoller) fetch(ctx context.Context) ([]byte, error) {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Get(p.feedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to call alert feed: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("alert feed returned HTTP %d", resp.StatusCode())
	}

	return resp.Body(), nil
}
