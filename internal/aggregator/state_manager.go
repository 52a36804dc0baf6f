package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storewatch-ingest/internal/incident"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/normalizer"
	"storewatch-ingest/internal/signals"
)

// 快照不设 TTL：进程重启后要能恢复现场
const snapshotTTL = 0

// persistedState Redis 快照的序列化形态
type persistedState struct {
	Events       []models.Event                 `json:"events"`
	SignalChecks models.SignalChecksState       `json:"signal_checks"`
	Timeline     []models.IncidentTimelineEntry `json:"timeline"`
	SavedAt      int64                          `json:"saved_at"`
}

// StateManager 有界的实时状态：事件集合 + 信号摘要 + 处理时间线
//
// 所有读写都在进程内互斥锁下进行，Redis 只作为重启恢复用的快照。
type StateManager struct {
	mu       sync.RWMutex
	events   []models.Event
	signals  models.SignalChecksState
	timeline []models.IncidentTimelineEntry

	normalizer *normalizer.FeedNormalizer
	kv         KVStore
	logger     *zap.Logger
	maxEvents  int
	storeID    string
}

// NewStateManager 创建状态管理器
func NewStateManager(
	n *normalizer.FeedNormalizer,
	kv KVStore,
	logger *zap.Logger,
	storeID string,
	maxEvents int,
) *StateManager {
	if maxEvents < 1 {
		maxEvents = 1
	}
	if maxEvents > 1000 {
		maxEvents = 1000
	}
	return &StateManager{
		events:     []models.Event{},
		signals:    models.InitialSignalChecks(),
		normalizer: n,
		kv:         kv,
		logger:     logger,
		maxEvents:  maxEvents,
		storeID:    storeID,
	}
}

func (s *StateManager) snapshotKey() string {
	return fmt.Sprintf("storewatch:state:%s:snapshot", s.storeID)
}

// ApplyPayload 归一化任意入站载荷并应用到状态
//
// 返回归一化后的批次，便于调用方记日志或转发。
func (s *StateManager) ApplyPayload(ctx context.Context, payload interface{}) models.SyncBatch {
	batch := s.normalizer.Normalize(payload)
	s.ApplyBatch(ctx, batch)
	return batch
}

// ApplyBytes 同 ApplyPayload，入参为 JSON 字节流
func (s *StateManager) ApplyBytes(ctx context.Context, data []byte) models.SyncBatch {
	batch := s.normalizer.NormalizeBytes(data)
	s.ApplyBatch(ctx, batch)
	return batch
}

// ApplyBatch 应用一个同步批次（事件合并 + 信号补丁）
func (s *StateManager) ApplyBatch(ctx context.Context, batch models.SyncBatch) {
	if batch.IsEmpty() {
		return
	}

	s.mu.Lock()
	s.events = ApplyIncomingSyncBatch(s.events, batch, s.maxEvents)
	s.signals = signals.MergeSignalChecks(s.signals, batch.SignalPatch)
	s.mu.Unlock()

	s.logger.Debug("Applied sync batch",
		zap.String("mode", string(batch.Mode)),
		zap.Int("upsert", len(batch.Upsert)),
		zap.Int("removed", len(batch.RemoveIDs)),
		zap.Strings("signal_labels", batch.SignalLabels),
	)

	if err := s.persist(ctx); err != nil {
		s.logger.Warn("Failed to persist state snapshot", zap.Error(err))
	}
}

// Events 当前事件集合的副本（排序与内部一致）
func (s *StateManager) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Event 按 ID 查找事件
func (s *StateManager) Event(eventID string) (models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, event := range s.events {
		if event.ID == eventID {
			return event, true
		}
	}
	return models.Event{}, false
}

// SignalChecks 当前信号摘要
func (s *StateManager) SignalChecks() models.SignalChecksState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signals
}

// Timeline 时间线副本（最新在前）
func (s *StateManager) Timeline() []models.IncidentTimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.IncidentTimelineEntry, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Acknowledge 确认事件（new → ack）
func (s *StateManager) Acknowledge(ctx context.Context, eventID, actor, note string) (models.IncidentTimelineEntry, error) {
	return s.changeStatus(ctx, eventID, models.StatusAck, models.ActionAck, actor, note)
}

// Resolve 关闭事件（→ resolved）
func (s *StateManager) Resolve(ctx context.Context, eventID, actor, note string) (models.IncidentTimelineEntry, error) {
	return s.changeStatus(ctx, eventID, models.StatusResolved, models.ActionResolved, actor, note)
}

func (s *StateManager) changeStatus(ctx context.Context, eventID string, to models.IncidentStatus, action models.IncidentAction, actor, note string) (models.IncidentTimelineEntry, error) {
	s.mu.Lock()
	var entry *models.IncidentTimelineEntry
	for i := range s.events {
		if s.events[i].ID != eventID {
			continue
		}
		changed, ok := incident.ApplyStatusChange(&s.events[i], to, action, actor, note)
		if !ok {
			s.mu.Unlock()
			return models.IncidentTimelineEntry{}, fmt.Errorf("invalid status transition for event %s: %s -> %s",
				eventID, s.events[i].IncidentStatus, to)
		}
		entry = changed
		break
	}
	if entry == nil {
		s.mu.Unlock()
		return models.IncidentTimelineEntry{}, fmt.Errorf("event not found: %s", eventID)
	}
	s.timeline = incident.AppendTimeline(s.timeline, *entry)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.Warn("Failed to persist state snapshot", zap.Error(err))
	}
	return *entry, nil
}

// Dispatch 记录派遣；new 事件隐式推进到 ack
func (s *StateManager) Dispatch(ctx context.Context, eventID, actor, note string) (models.IncidentTimelineEntry, error) {
	s.mu.Lock()
	var entry *models.IncidentTimelineEntry
	found := false
	for i := range s.events {
		if s.events[i].ID != eventID {
			continue
		}
		found = true
		changed, ok := incident.Dispatch(&s.events[i], actor, note)
		if !ok {
			s.mu.Unlock()
			return models.IncidentTimelineEntry{}, fmt.Errorf("event already resolved: %s", eventID)
		}
		entry = changed
		break
	}
	if !found {
		s.mu.Unlock()
		return models.IncidentTimelineEntry{}, fmt.Errorf("event not found: %s", eventID)
	}
	s.timeline = incident.AppendTimeline(s.timeline, *entry)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		s.logger.Warn("Failed to persist state snapshot", zap.Error(err))
	}
	return *entry, nil
}

// persist 把当前状态写入 Redis 快照
func (s *StateManager) persist(ctx context.Context) error {
	s.mu.RLock()
	snapshot := persistedState{
		Events:       s.events,
		SignalChecks: s.signals,
		Timeline:     s.timeline,
		SavedAt:      time.Now().UnixMilli(),
	}
	jsonData, err := json.Marshal(snapshot)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, s.snapshotKey(), string(jsonData), snapshotTTL); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// Restore 从 Redis 快照恢复状态；快照不存在时保持初始状态
func (s *StateManager) Restore(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, s.snapshotKey())
	if err != nil {
		if err == ErrCacheMiss {
			s.logger.Info("No state snapshot found, starting fresh",
				zap.String("store_id", s.storeID))
			return nil
		}
		return fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot persistedState
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		// 坏快照不阻塞启动
		s.logger.Warn("Discarding corrupt state snapshot", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	if snapshot.Events != nil {
		events := snapshot.Events
		if len(events) > s.maxEvents {
			events = events[:s.maxEvents]
		}
		s.events = events
	}
	s.signals = snapshot.SignalChecks
	if len(snapshot.Timeline) > incident.TimelineMax {
		snapshot.Timeline = snapshot.Timeline[:incident.TimelineMax]
	}
	s.timeline = snapshot.Timeline
	s.mu.Unlock()

	s.logger.Info("Restored state from snapshot",
		zap.String("store_id", s.storeID),
		zap.Int("events", len(snapshot.Events)),
		zap.Int("timeline", len(snapshot.Timeline)),
	)
	return nil
}
