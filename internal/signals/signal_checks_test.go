package signals

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/zonemap"
)

func testParser(t *testing.T) *Parser {
	t.Helper()
	resolver, err := zonemap.New(&models.ZoneMap{
		StoreID: "s001",
		Map:     models.MapMeta{Width: 1000, Height: 1000},
		Zones: []models.Zone{
			{
				ZoneID:   "floor",
				Polygon:  [][]float64{{0, 0}, {1000, 0}, {1000, 1000}, {0, 1000}},
				Centroid: []float64{500, 500},
			},
		},
	})
	require.NoError(t, err)
	a := adapter.NewAdapter(resolver, geometry.NewTransform(nil), "s001", models.SourceAPI)
	return NewParser(a, models.SourceCamera)
}

func safetyEnvelope(ts int64) map[string]interface{} {
	return map[string]interface{}{
		"eventType": "safety",
		"timestamp": float64(ts),
		"deviceId":  "cam-edge-7",
		"severity":  "Critical",
		"data": map[string]interface{}{
			"zone_id": "floor",
			"objects": []interface{}{
				map[string]interface{}{
					"track_id":   float64(3),
					"status":     "fall_detected",
					"label":      "person",
					"confidence": 0.91,
					"location": map[string]interface{}{
						"bbox": []interface{}{float64(600), float64(300), float64(680), float64(420)},
					},
					"vlm_analysis": map[string]interface{}{
						"summary": "person on floor",
						"action":  "send staff",
					},
				},
			},
		},
	}
}

func TestParseSignalPayload_SafetyEnvelope(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	result := p.ParseSignalPayload(safetyEnvelope(ts))

	require.NotNil(t, result.Patch.Safety)
	assert.Equal(t, ts, result.Patch.Safety.UpdatedAt)
	assert.Equal(t, "cam-edge-7", result.Patch.Safety.DeviceID)
	assert.Equal(t, models.ToneCritical, result.Patch.Safety.Tone)
	assert.Equal(t, 1, result.Patch.Safety.FallCount)
	assert.Equal(t, 1, result.Patch.Safety.Count)
	assert.Equal(t, "person on floor", result.Patch.Safety.Summary)
	assert.Equal(t, "send staff", result.Patch.Safety.Action)
	assert.Equal(t, []string{LabelSafety}, result.Labels)

	require.Len(t, result.GeneratedEvents, 1)
	event := result.GeneratedEvents[0]
	assert.Equal(t, "cam-edge-7:safety:3:"+formatInt(ts), event.ID)
	assert.Equal(t, models.EventTypeFall, event.Type)
	assert.Equal(t, 3, event.Severity)
	assert.Equal(t, models.SourceCamera, event.Source)
	assert.Equal(t, "person", event.ObjectLabel)
	assert.Equal(t, "fall_detected", event.RawStatus)
	// bbox 中心 (640, 360) / 1280x720
	assert.InDelta(t, 0.5, event.X, 1e-9)
	assert.InDelta(t, 0.5, event.Y, 1e-9)
}

func TestParseSignalPayload_CrowdEnvelope(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	result := p.ParseSignalPayload(map[string]interface{}{
		"eventType": "crowd",
		"timestamp": float64(ts),
		"device_id": "cam-edge-2",
		"data": map[string]interface{}{
			"zone_id":          "floor",
			"count":            float64(14),
			"congestion_level": "High",
		},
	})

	require.NotNil(t, result.Patch.Crowd)
	assert.Equal(t, 14, result.Patch.Crowd.Count)
	assert.Equal(t, models.ToneCritical, result.Patch.Crowd.Tone)
	assert.Equal(t, "High", result.Patch.Crowd.CongestionLevel)
	assert.Empty(t, result.GeneratedEvents)
	assert.Equal(t, []string{LabelCrowd}, result.Labels)
}

func TestParseSignalPayload_CleaningEnvelope(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	result := p.ParseSignalPayload(map[string]interface{}{
		"eventType": "cleaning",
		"timestamp": float64(ts),
		"deviceId":  "cam-edge-9",
		"data": map[string]interface{}{
			"objects": []interface{}{
				map[string]interface{}{
					"status": "trash_detected",
					"label":  "cup",
					"location": map[string]interface{}{
						"bbox": []interface{}{float64(100), float64(100), float64(200), float64(200)},
					},
				},
			},
		},
	})

	require.NotNil(t, result.Patch.Trash)
	assert.Equal(t, 1, result.Patch.Trash.TrashCount)
	// 缺省严重度按 Warning 处理
	assert.Equal(t, "Warning", result.Patch.Trash.Severity)
	assert.Equal(t, models.ToneWatch, result.Patch.Trash.Tone)

	require.Len(t, result.GeneratedEvents, 1)
	// cleaning 对象不携带 label，严重度固定为 2
	assert.Empty(t, result.GeneratedEvents[0].ObjectLabel)
	assert.Equal(t, 2, result.GeneratedEvents[0].Severity)
}

func TestParseSignalPayload_WrappedAndUnknown(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	// 信封藏在包装字段里也能找到
	result := p.ParseSignalPayload(map[string]interface{}{
		"payload": map[string]interface{}{
			"events": []interface{}{safetyEnvelope(ts)},
		},
	})
	assert.NotNil(t, result.Patch.Safety)

	// 未知类型忽略
	result = p.ParseSignalPayload(map[string]interface{}{
		"eventType": "weather",
		"timestamp": float64(ts),
	})
	assert.Nil(t, result.Patch.Crowd)
	assert.Nil(t, result.Patch.Safety)
	assert.Nil(t, result.Patch.Trash)
	assert.Empty(t, result.Labels)

	// 非对象载荷安全返回
	result = p.ParseSignalPayload("garbage")
	assert.Empty(t, result.GeneratedEvents)
}

func TestParseSignalPayload_WorldCoordinatesPreferred(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	envelope := safetyEnvelope(ts)
	data := envelope["data"].(map[string]interface{})
	object := data["objects"].([]interface{})[0].(map[string]interface{})
	object["location"] = map[string]interface{}{
		"world": map[string]interface{}{"x": float64(1.5), "z": float64(-2.0)},
	}

	result := p.ParseSignalPayload(envelope)
	require.Len(t, result.GeneratedEvents, 1)
	event := result.GeneratedEvents[0]
	require.NotNil(t, event.WorldXM)
	assert.InDelta(t, 1.5, *event.WorldXM, 1e-9)
	require.NotNil(t, event.WorldZM)
	assert.InDelta(t, -2.0, *event.WorldZM, 1e-9)
}

func TestParseSignalPayload_ObjectWithoutLocationDropped(t *testing.T) {
	p := testParser(t)
	ts := time.Now().UnixMilli()

	envelope := safetyEnvelope(ts)
	data := envelope["data"].(map[string]interface{})
	object := data["objects"].([]interface{})[0].(map[string]interface{})
	delete(object, "location")

	result := p.ParseSignalPayload(envelope)
	assert.Empty(t, result.GeneratedEvents)
	// 信号摘要仍然更新
	require.NotNil(t, result.Patch.Safety)
	assert.Equal(t, 1, result.Patch.Safety.FallCount)
}

func TestMergeSignalChecks_NewestWins(t *testing.T) {
	state := models.InitialSignalChecks()

	newer := &models.CrowdSignal{UpdatedAt: 2000, DeviceID: "cam-1", Tone: models.ToneWatch}
	state = MergeSignalChecks(state, models.SignalPatch{Crowd: newer})
	assert.Equal(t, int64(2000), state.Crowd.UpdatedAt)

	// 旧补丁不覆盖
	older := &models.CrowdSignal{UpdatedAt: 1000, DeviceID: "cam-2"}
	state = MergeSignalChecks(state, models.SignalPatch{Crowd: older})
	assert.Equal(t, "cam-1", state.Crowd.DeviceID)

	// 相同时间戳取新值
	same := &models.CrowdSignal{UpdatedAt: 2000, DeviceID: "cam-3"}
	state = MergeSignalChecks(state, models.SignalPatch{Crowd: same})
	assert.Equal(t, "cam-3", state.Crowd.DeviceID)

	// 无时间戳的补丁只能覆盖从未更新的槽位
	zero := &models.SafetySignal{DeviceID: "cam-4"}
	state = MergeSignalChecks(state, models.SignalPatch{Safety: zero})
	assert.Equal(t, "cam-4", state.Safety.DeviceID)
	state = MergeSignalChecks(state, models.SignalPatch{Safety: &models.SafetySignal{UpdatedAt: 500, DeviceID: "cam-5"}})
	assert.Equal(t, "cam-5", state.Safety.DeviceID)
}

func TestToneMappings(t *testing.T) {
	assert.Equal(t, models.ToneCritical, SeverityToTone("Critical alert"))
	assert.Equal(t, models.ToneWatch, SeverityToTone("warning"))
	assert.Equal(t, models.ToneOK, SeverityToTone("info"))
	assert.Equal(t, models.ToneIdle, SeverityToTone(""))

	assert.Equal(t, models.ToneCritical, CongestionToTone("high"))
	assert.Equal(t, models.ToneWatch, CongestionToTone("Medium"))
	assert.Equal(t, models.ToneOK, CongestionToTone("low"))
	assert.Equal(t, models.ToneIdle, CongestionToTone("n/a"))
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
