package demo

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storewatch-ingest/internal/aggregator"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/zonemap"
)

const (
	// DefaultLiveWindowMs 实时窗口：1 小时
	DefaultLiveWindowMs = int64(60 * 60 * 1000)
	// DefaultHistoryLookbackMs 历史回填最远回看：6 小时
	DefaultHistoryLookbackMs = int64(6 * 60 * 60 * 1000)

	demoModelVersion = "demo-v0.3"
)

var demoCameras = []string{"cam-front-01", "cam-mid-02", "cam-cash-03", "cam-back-04"}

var demoEventTypes = []models.EventType{
	models.EventTypeCrowd,
	models.EventTypeFall,
	models.EventTypeFight,
	models.EventTypeLoitering,
}

var demoNotes = map[models.EventType]string{
	models.EventTypeCrowd:     "사람이 몰리고 있어요",
	models.EventTypeFall:      "넘어짐 가능성이 감지됐어요",
	models.EventTypeFight:     "다툼 가능 동작이 감지됐어요",
	models.EventTypeLoitering: "오랫동안 머무는 상황이 감지됐어요",
}

// Options 单条演示事件的生成参数
type Options struct {
	Now          int64 // epoch ms，0 表示当前时刻
	LiveWindowMs int64
	HistoryRatio float64 // 0..1，落入历史窗口的概率
	ForceHistory bool
}

// Generator 演示事件生成器
//
// 事件坐标从区域地图内采样，保证每条事件都落在真实区域里。
type Generator struct {
	resolver *zonemap.Resolver
	storeID  string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator 创建演示事件生成器
func NewGenerator(resolver *zonemap.Resolver, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		resolver: resolver,
		storeID:  resolver.StoreID(),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (g *Generator) pickString(values []string) string {
	return values[g.rng.Intn(len(values))]
}

func (g *Generator) randomInt(min, max int64) int64 {
	return min + g.rng.Int63n(max-min+1)
}

func typeSeverity(t models.EventType) int {
	switch t {
	case models.EventTypeFall, models.EventTypeFight:
		return 3
	case models.EventTypeCrowd:
		return 2
	default:
		return 1
	}
}

// Event 生成一条演示事件
func (g *Generator) Event(opts Options) models.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.event(opts)
}

func (g *Generator) event(opts Options) models.Event {
	zoneIDs := g.resolver.ZoneIDs()
	zoneID := zoneIDs[g.rng.Intn(len(zoneIDs))]
	point := g.resolver.SamplePoint(zoneID, g.rng)

	eventType := demoEventTypes[g.rng.Intn(len(demoEventTypes))]
	severity := typeSeverity(eventType)

	now := opts.Now
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	liveWindowMs := opts.LiveWindowMs
	if liveWindowMs <= 0 {
		liveWindowMs = DefaultLiveWindowMs
	}

	historyRatio := clampRatio(opts.HistoryRatio)
	isHistory := opts.ForceHistory || g.rng.Float64() < historyRatio

	var detectedAt int64
	if isHistory {
		detectedAt = now - liveWindowMs - g.randomInt(10_000, DefaultHistoryLookbackMs)
	} else {
		spread := liveWindowMs * 3 / 10
		if spread < 10_000 {
			spread = 10_000
		}
		detectedAt = now - g.randomInt(0, spread)
	}

	ingestDelay := g.randomInt(180, 1800)
	confidence := 0.72 + float64(severity)*0.08 + (g.rng.Float64()*0.08 - 0.04)
	if confidence < 0.6 {
		confidence = 0.6
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	status := models.StatusNew
	if isHistory {
		if g.rng.Float64() < 0.55 {
			status = models.StatusResolved
		} else {
			status = models.StatusAck
		}
	}

	return models.Event{
		ID:             uuid.New().String(),
		StoreID:        g.storeID,
		DetectedAt:     detectedAt,
		IngestedAt:     detectedAt + ingestDelay,
		LatencyMs:      ingestDelay,
		Type:           eventType,
		Severity:       severity,
		Confidence:     confidence,
		ZoneID:         zoneID,
		CameraID:       g.pickString(demoCameras),
		Source:         models.SourceDemo,
		ModelVersion:   demoModelVersion,
		IncidentStatus: status,
		X:              point.X,
		Y:              point.Y,
		Note:           demoNotes[eventType],
	}
}

// Events 批量生成演示事件，按检测时刻降序返回
func (g *Generator) Events(count int, opts Options) []models.Event {
	if count <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := opts.Now
	if now == 0 {
		now = time.Now().UnixMilli()
	}

	events := make([]models.Event, 0, count)
	for i := 0; i < count; i++ {
		perEvent := opts
		perEvent.Now = now - int64(i)*g.randomInt(1_000, 6_000)
		events = append(events, g.event(perEvent))
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].DetectedAt > events[j].DetectedAt
	})
	return events
}

// Seed 生成历史掺杂的演示批次并灌入状态管理器
func (g *Generator) Seed(ctx context.Context, state *aggregator.StateManager, count int) models.SyncBatch {
	batch := models.SyncBatch{
		Mode:   models.SyncModeMerge,
		Upsert: g.Events(count, Options{HistoryRatio: 0.4}),
	}
	state.ApplyBatch(ctx, batch)
	return batch
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
