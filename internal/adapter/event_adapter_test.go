package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/zonemap"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	resolver, err := zonemap.New(&models.ZoneMap{
		StoreID: "s001",
		Map:     models.MapMeta{Width: 1000, Height: 1000},
		Zones: []models.Zone{
			{
				ZoneID:   "entrance",
				Polygon:  [][]float64{{0, 0}, {500, 0}, {500, 1000}, {0, 1000}},
				Centroid: []float64{250, 500},
			},
			{
				ZoneID:   "checkout",
				Polygon:  [][]float64{{500, 0}, {1000, 0}, {1000, 1000}, {500, 1000}},
				Centroid: []float64{750, 500},
			},
		},
	})
	require.NoError(t, err)
	return NewAdapter(resolver, geometry.NewTransform(nil), "s001", models.SourceAPI)
}

func TestReadPath_Nested(t *testing.T) {
	record := map[string]interface{}{
		"vlm_analysis": map[string]interface{}{"cause": "spill"},
	}
	assert.Equal(t, "spill", ReadPath(record, "vlm_analysis.cause"))
	assert.Nil(t, ReadPath(record, "vlm_analysis.action"))
	assert.Nil(t, ReadPath(record, "vlm_analysis.cause.deeper"))
}

func TestPickValue_Priority(t *testing.T) {
	record := map[string]interface{}{
		"event_id": "e-2",
		"uuid":     "u-3",
	}
	assert.Equal(t, "e-2", PickValue(record, eventIDPaths))
}

func TestParseEpochMs(t *testing.T) {
	nowMs := time.Now().UnixMilli()

	got, ok := parseEpochMs(float64(nowMs))
	require.True(t, ok)
	assert.Equal(t, nowMs, got)

	// 秒级时间戳换算成毫秒
	got, ok = parseEpochMs(float64(nowMs / 1000))
	require.True(t, ok)
	assert.Equal(t, (nowMs/1000)*1000, got)

	// 数值字符串
	got, ok = parseEpochMs("1700000000")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), got)

	// ISO 文本
	got, ok = parseEpochMs("2023-11-14T22:13:20Z")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), got)

	// 2000 年之前
	_, ok = parseEpochMs(float64(631152000000))
	assert.False(t, ok)

	// 超前一年以上
	_, ok = parseEpochMs(float64(nowMs + 2*365*24*3600*1000))
	assert.False(t, ok)

	_, ok = parseEpochMs("not a time")
	assert.False(t, ok)
	_, ok = parseEpochMs(nil)
	assert.False(t, ok)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, models.EventTypeFall, normalizeType("FALL"))
	assert.Equal(t, models.EventTypeFall, normalizeType("slip"))
	assert.Equal(t, models.EventTypeFight, normalizeType("violence"))
	assert.Equal(t, models.EventTypeCrowd, normalizeType("congestion"))
	assert.Equal(t, models.EventTypeLoitering, normalizeType("linger"))
	assert.Equal(t, models.EventTypeUnknown, normalizeType("whatever"))
	assert.Equal(t, models.EventTypeUnknown, normalizeType(42))
}

func TestNormalizeSeverity(t *testing.T) {
	assert.Equal(t, 3, normalizeSeverity("P1", models.EventTypeUnknown))
	assert.Equal(t, 3, normalizeSeverity("critical", models.EventTypeUnknown))
	assert.Equal(t, 2, normalizeSeverity("med", models.EventTypeUnknown))
	assert.Equal(t, 1, normalizeSeverity("minor", models.EventTypeUnknown))
	assert.Equal(t, 2, normalizeSeverity("level-2", models.EventTypeUnknown))
	assert.Equal(t, 3, normalizeSeverity(float64(7), models.EventTypeUnknown))
	assert.Equal(t, 1, normalizeSeverity(float64(0), models.EventTypeFall))

	// 超出 1..3 的数字字符串不走数值分支，落回类型默认
	assert.Equal(t, 1, normalizeSeverity("7", models.EventTypeUnknown))
	assert.Equal(t, 3, normalizeSeverity("7", models.EventTypeFall))
	assert.Equal(t, 2, normalizeSeverity("0", models.EventTypeCrowd))

	// 缺失时按类型给默认值
	assert.Equal(t, 3, normalizeSeverity(nil, models.EventTypeFall))
	assert.Equal(t, 3, normalizeSeverity(nil, models.EventTypeFight))
	assert.Equal(t, 2, normalizeSeverity(nil, models.EventTypeCrowd))
	assert.Equal(t, 1, normalizeSeverity(nil, models.EventTypeLoitering))
}

func TestNormalizeConfidence(t *testing.T) {
	assert.InDelta(t, 0.5, normalizeConfidence(float64(0.5), 1), 1e-9)
	// 百分比换算
	assert.InDelta(t, 0.87, normalizeConfidence(float64(87), 1), 1e-9)
	// 缺失时按严重度给默认值
	assert.InDelta(t, 0.92, normalizeConfidence(nil, 3), 1e-9)
	assert.InDelta(t, 0.84, normalizeConfidence(nil, 2), 1e-9)
	assert.InDelta(t, 0.78, normalizeConfidence(nil, 1), 1e-9)
}

func TestNormalizeIncidentStatus(t *testing.T) {
	assert.Equal(t, models.StatusAck, normalizeIncidentStatus("dispatched"))
	assert.Equal(t, models.StatusResolved, normalizeIncidentStatus("closed"))
	assert.Equal(t, models.StatusNew, normalizeIncidentStatus("open"))
	assert.Equal(t, models.StatusNew, normalizeIncidentStatus(nil))
}

func TestNormalizeSource(t *testing.T) {
	assert.Equal(t, models.SourceCamera, normalizeSource("edge-camera-7", models.SourceUnknown))
	assert.Equal(t, models.SourceDemo, normalizeSource("demo-feed", models.SourceUnknown))
	assert.Equal(t, models.SourceAPI, normalizeSource("partner-x", models.SourceUnknown))
	assert.Equal(t, models.SourceUnknown, normalizeSource(nil, models.SourceUnknown))
}

func TestAdaptRawEvent_FullRecord(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	event := a.AdaptRawEvent(map[string]interface{}{
		"event_id":    "evt-1",
		"detected_at": float64(nowMs - 5000),
		"ingested_at": float64(nowMs),
		"type":        "fall_down",
		"severity":    "high",
		"confidence":  float64(88),
		"x":           0.2,
		"y":           0.5,
		"camera_id":   "cam-01",
		"vlm_analysis": map[string]interface{}{
			"summary": "person down",
			"cause":   "wet floor",
			"action":  "dispatch staff",
		},
	})
	require.NotNil(t, event)

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "s001", event.StoreID)
	assert.Equal(t, models.EventTypeFall, event.Type)
	assert.Equal(t, 3, event.Severity)
	assert.InDelta(t, 0.88, event.Confidence, 1e-9)
	assert.Equal(t, int64(5000), event.LatencyMs)
	assert.Equal(t, "entrance", event.ZoneID)
	assert.Equal(t, "person down | cause:wet floor | action:dispatch staff", event.Note)
	require.NotNil(t, event.WorldXM)
	require.NotNil(t, event.WorldZM)
}

func TestAdaptRawEvent_SynthesizedID(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	event := a.AdaptRawEvent(map[string]interface{}{
		"camera_id": "cam-02",
		"track_id":  float64(17),
		"ts":        float64(nowMs),
		"x":         0.7,
		"y":         0.3,
	})
	require.NotNil(t, event)
	assert.Equal(t, "cam-02:track-17", event.ID)
	assert.Equal(t, "checkout", event.ZoneID)
	// 无类型无严重度：unknown + 1 + 默认置信度
	assert.Equal(t, models.EventTypeUnknown, event.Type)
	assert.Equal(t, 1, event.Severity)
	assert.InDelta(t, 0.78, event.Confidence, 1e-9)
}

func TestAdaptRawEvent_WorldCoordinates(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	event := a.AdaptRawEvent(map[string]interface{}{
		"id": "evt-world",
		"ts": float64(nowMs),
		"location": map[string]interface{}{
			"x_m": float64(0),
			"z_m": float64(0),
		},
	})
	require.NotNil(t, event)
	// 世界原点经仿射降级映射到地图中心
	assert.InDelta(t, 0.5, event.X, 1e-9)
	assert.InDelta(t, 0.5, event.Y, 1e-9)
	require.NotNil(t, event.WorldXM)
	assert.InDelta(t, 0, *event.WorldXM, 1e-9)
}

func TestAdaptRawEvent_PositionPair(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	event := a.AdaptRawEvent(map[string]interface{}{
		"id":       "evt-pair",
		"ts":       float64(nowMs),
		"position": []interface{}{float64(25), float64(75)},
	})
	require.NotNil(t, event)
	assert.InDelta(t, 0.25, event.X, 1e-9)
	assert.InDelta(t, 0.75, event.Y, 1e-9)
}

func TestAdaptRawEvent_Rejections(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	// 非对象
	assert.Nil(t, a.AdaptRawEvent("nope"))
	assert.Nil(t, a.AdaptRawEvent(nil))

	// 无 ID
	assert.Nil(t, a.AdaptRawEvent(map[string]interface{}{
		"ts": float64(nowMs), "x": 0.5, "y": 0.5,
	}))

	// 无可信时间戳
	assert.Nil(t, a.AdaptRawEvent(map[string]interface{}{
		"id": "evt-x", "x": 0.5, "y": 0.5,
	}))

	// 无位置
	assert.Nil(t, a.AdaptRawEvent(map[string]interface{}{
		"id": "evt-y", "ts": float64(nowMs),
	}))
}

func TestAdaptRawEvent_ExplicitZonePreserved(t *testing.T) {
	a := testAdapter(t)
	nowMs := time.Now().UnixMilli()

	event := a.AdaptRawEvent(map[string]interface{}{
		"id":      "evt-z",
		"ts":      float64(nowMs),
		"x":       0.1,
		"y":       0.1,
		"zone_id": "aisle-9",
	})
	require.NotNil(t, event)
	assert.Equal(t, "aisle-9", event.ZoneID)
}

func TestNormalizeEventFeed_DedupeAndSort(t *testing.T) {
	a := testAdapter(t)
	base := time.Now().UnixMilli() - 60000

	raw := []interface{}{
		map[string]interface{}{"id": "b", "ts": float64(base + 1000), "x": 0.1, "y": 0.1},
		map[string]interface{}{"id": "a", "ts": float64(base + 2000), "x": 0.1, "y": 0.1},
		// 同 ID 旧版本，应被更新的一条覆盖
		map[string]interface{}{"id": "a", "ts": float64(base + 500), "x": 0.9, "y": 0.9},
		map[string]interface{}{"id": "c", "ts": float64(base + 2000), "x": 0.1, "y": 0.1},
		"garbage",
	}

	events := a.NormalizeEventFeed(raw, 100)
	require.Len(t, events, 3)
	// detected_at 降序，同时间戳按 id 升序
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
	assert.Equal(t, "b", events[2].ID)
	assert.Equal(t, int64(base+2000), events[0].DetectedAt)
}

func TestNormalizeEventFeed_IngestedAtTieBreak(t *testing.T) {
	a := testAdapter(t)
	base := time.Now().UnixMilli() - 60000

	raw := []interface{}{
		// 同 ID 同 detected_at：保留 ingested_at 更大的一条
		map[string]interface{}{"id": "dup", "ts": float64(base), "ingestedAt": float64(base + 1000), "type": "fall", "x": 0.1, "y": 0.1},
		map[string]interface{}{"id": "dup", "ts": float64(base), "ingestedAt": float64(base + 5000), "type": "fight", "x": 0.1, "y": 0.1},
		// 同 detected_at 先按 ingested_at 降序，再按 id 升序
		map[string]interface{}{"id": "z", "ts": float64(base), "ingestedAt": float64(base + 9000), "x": 0.1, "y": 0.1},
		map[string]interface{}{"id": "m", "ts": float64(base), "ingestedAt": float64(base + 5000), "x": 0.1, "y": 0.1},
	}

	events := a.NormalizeEventFeed(raw, 100)
	require.Len(t, events, 3)

	assert.Equal(t, "z", events[0].ID)
	// dup 与 m 的 ingested_at 相同，id 升序
	assert.Equal(t, "dup", events[1].ID)
	assert.Equal(t, "m", events[2].ID)

	// 去重保留的是后到的那条
	assert.Equal(t, models.EventTypeFight, events[1].Type)
	assert.Equal(t, base+5000, events[1].IngestedAt)
}

func TestNormalizeEventFeed_MaxEventsClamped(t *testing.T) {
	a := testAdapter(t)
	base := time.Now().UnixMilli() - 60000

	raw := make([]interface{}, 0, 5)
	for i := 0; i < 5; i++ {
		raw = append(raw, map[string]interface{}{
			"id": string(rune('a' + i)),
			"ts": float64(base + int64(i)*1000),
			"x":  0.5, "y": 0.5,
		})
	}

	// maxEvents < 1 钳制为 1
	events := a.NormalizeEventFeed(raw, 0)
	assert.Len(t, events, 1)

	events = a.NormalizeEventFeed(raw, 3)
	assert.Len(t, events, 3)

	assert.Empty(t, a.NormalizeEventFeed(nil, 10))
}
