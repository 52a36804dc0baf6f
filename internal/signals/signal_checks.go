// Package signals 解析边缘摄像头的信号信封（crowd/safety/cleaning），
// 更新三路实时信号摘要并派生出标准事件。
package signals

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/models"
)

// 信号面板的标签标记（只用于去重与日志）
const (
	LabelCrowd  = "crowd-density"
	LabelSafety = "safety"
	LabelTrash  = "cleaning"
)

// ParseResult 一次信号解析的全部产出
type ParseResult struct {
	GeneratedEvents []models.Event
	Patch           models.SignalPatch
	Labels          []string
}

// Parser 信号信封解析器
type Parser struct {
	adapter       *adapter.Adapter
	defaultSource models.EventSource
}

// NewParser 创建解析器；派生事件经 adapter 走统一的标准化管线
func NewParser(a *adapter.Adapter, defaultSource models.EventSource) *Parser {
	if defaultSource == "" {
		defaultSource = models.SourceAPI
	}
	return &Parser{adapter: a, defaultSource: defaultSource}
}

func parseText(value interface{}) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func parseNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// parseEnvelopeEpoch 信封时间戳：毫秒或秒级数值、日期文本
//
// 与事件适配不同，这里不做历史区间校验；小于 1e9 的裸数值视为无效。
func parseEnvelopeEpoch(value interface{}) (int64, bool) {
	fromNumber := func(v float64) (int64, bool) {
		if v >= 1e12 {
			return int64(math.Round(v)), true
		}
		if v >= 1e9 {
			return int64(math.Round(v * 1000)), true
		}
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return fromNumber(v)
	case int:
		return fromNumber(float64(v))
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if asNum, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return fromNumber(asNum)
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, trimmed); err == nil {
				return ts.UnixMilli(), true
			}
		}
	}
	return 0, false
}

// SeverityToTone 严重度文本 → 信号状态
func SeverityToTone(severity string) models.SignalTone {
	normalized := strings.ToLower(severity)
	if strings.Contains(normalized, "critical") {
		return models.ToneCritical
	}
	if strings.Contains(normalized, "warn") {
		return models.ToneWatch
	}
	if strings.Contains(normalized, "info") {
		return models.ToneOK
	}
	return models.ToneIdle
}

// severityToLevel 严重度文本 → 事件严重度 1..3
func severityToLevel(severity string) int {
	normalized := strings.ToLower(severity)
	if strings.Contains(normalized, "critical") {
		return 3
	}
	if strings.Contains(normalized, "warn") {
		return 2
	}
	return 1
}

// CongestionToTone 拥挤等级文本 → 信号状态
func CongestionToTone(level string) models.SignalTone {
	normalized := strings.ToLower(level)
	if strings.Contains(normalized, "high") {
		return models.ToneCritical
	}
	if strings.Contains(normalized, "medium") {
		return models.ToneWatch
	}
	if strings.Contains(normalized, "low") {
		return models.ToneOK
	}
	return models.ToneIdle
}

// shouldReplaceByTime 新值是否替换旧值（最新者胜，相同时间戳取新值）
//
// 0 是"从未更新"哨兵：无时间戳的补丁只能覆盖同样从未更新的槽位。
func shouldReplaceByTime(currentAt, nextAt int64) bool {
	if nextAt == 0 {
		return currentAt == 0
	}
	if currentAt == 0 {
		return true
	}
	return nextAt >= currentAt
}

// MergeSignalChecks 按槽位合并信号补丁（最新者胜）
func MergeSignalChecks(prev models.SignalChecksState, patch models.SignalPatch) models.SignalChecksState {
	next := prev
	if patch.Crowd != nil && shouldReplaceByTime(prev.Crowd.UpdatedAt, patch.Crowd.UpdatedAt) {
		next.Crowd = *patch.Crowd
	}
	if patch.Safety != nil && shouldReplaceByTime(prev.Safety.UpdatedAt, patch.Safety.UpdatedAt) {
		next.Safety = *patch.Safety
	}
	if patch.Trash != nil && shouldReplaceByTime(prev.Trash.UpdatedAt, patch.Trash.UpdatedAt) {
		next.Trash = *patch.Trash
	}
	return next
}

// objectEventInput 单个检测对象转事件所需的信封上下文
type objectEventInput struct {
	envelopeType string // "safety" 或 "cleaning"
	deviceID     string
	severityText string
	timestampMs  int64
	defaultZone  string
	object       map[string]interface{}
	index        int
	frameWidth   float64
	frameHeight  float64
}

// buildObjectEvent 把信封里的单个检测对象展开成标准事件
//
// 位置优先取世界坐标，其次 bbox 中心按帧尺寸归一化；两者皆缺则丢弃。
// cleaning 对象不携带 label。
func (p *Parser) buildObjectEvent(in objectEventInput) *models.Event {
	trackID := strconv.Itoa(in.index)
	if n, ok := parseNumber(in.object["track_id"]); ok {
		trackID = strconv.FormatInt(int64(math.Trunc(n)), 10)
	}
	status := parseText(in.object["status"])
	if status == "" {
		status = "unknown"
	}
	statusKey := strings.ToLower(status)

	label := parseText(in.object["label"])
	if in.envelopeType == "cleaning" {
		label = ""
	} else if label == "" {
		label = "unknown"
	}

	confidence := 0.75
	if n, ok := parseNumber(in.object["confidence"]); ok {
		confidence = n
	}

	location, _ := adapter.AsRecord(in.object["location"])
	world, _ := adapter.AsRecord(location["world"])
	worldX, hasWorldX := parseNumber(world["x"])
	worldZ, hasWorldZ := parseNumber(world["z"])
	hasWorld := hasWorldX && hasWorldZ

	zoneID := parseText(location["zone_id"])
	if zoneID == "" {
		zoneID = in.defaultZone
	}

	eventType := "unknown"
	if in.envelopeType == "safety" {
		if strings.Contains(statusKey, "fall") {
			eventType = "fall"
		} else if strings.Contains(statusKey, "fight") || strings.Contains(statusKey, "aggressive") {
			eventType = "fight"
		}
	}

	severity := severityToLevel(in.severityText)
	if in.envelopeType == "cleaning" {
		severity = 2
	}

	eventID := fmt.Sprintf("%s:%s:%s:%d", in.deviceID, in.envelopeType, trackID, in.timestampMs)
	base := map[string]interface{}{
		"eventId":    eventID,
		"timestamp":  float64(in.timestampMs),
		"camera_id":  in.deviceID,
		"track_id":   trackID,
		"status":     status,
		"eventType":  eventType,
		"severity":   float64(severity),
		"confidence": confidence,
		"zone_id":    zoneID,
	}
	if label != "" {
		base["label"] = label
	}

	if hasWorld {
		base["world"] = map[string]interface{}{"x": worldX, "z": worldZ}
	} else {
		bbox, _ := location["bbox"].([]interface{})
		if len(bbox) < 4 || in.frameWidth <= 0 || in.frameHeight <= 0 {
			return nil
		}
		x1, ok1 := parseNumber(bbox[0])
		y1, ok2 := parseNumber(bbox[1])
		x2, ok3 := parseNumber(bbox[2])
		y2, ok4 := parseNumber(bbox[3])
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil
		}
		base["x_norm"] = clamp01(((x1 + x2) / 2) / in.frameWidth)
		base["y_norm"] = clamp01(((y1 + y2) / 2) / in.frameHeight)
	}

	vlm, _ := adapter.AsRecord(in.object["vlm_analysis"])
	noteParts := make([]string, 0, 3)
	if summary := parseText(vlm["summary"]); summary != "" {
		noteParts = append(noteParts, summary)
	}
	if cause := parseText(vlm["cause"]); cause != "" {
		noteParts = append(noteParts, "cause:"+cause)
	}
	if action := parseText(vlm["action"]); action != "" {
		noteParts = append(noteParts, "action:"+action)
	}
	if len(noteParts) > 0 {
		base["note"] = strings.Join(noteParts, " | ")
	}

	normalized := p.adapter.AdaptRawEvent(base)
	if normalized == nil {
		return nil
	}

	normalized.ID = eventID
	normalized.Source = p.defaultSource
	normalized.ObjectLabel = label
	normalized.RawStatus = status
	if hasWorld {
		wx, wz := worldX, worldZ
		normalized.WorldXM = &wx
		normalized.WorldZM = &wz
	}
	return normalized
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// 无类型信封继续下钻的包装字段
var wrapperFields = []string{
	"event", "alert", "events", "items", "records", "results",
	"alerts", "data", "payload", "message", "sync",
}

// ParseSignalPayload 递归解析信号载荷
//
// 带 eventType 的节点按 crowd/safety/cleaning 处理，其余类型忽略；
// 无类型的对象沿常见包装字段继续下钻。
func (p *Parser) ParseSignalPayload(payload interface{}) ParseResult {
	result := ParseResult{Labels: []string{}}

	applyLabel := func(label string) {
		for _, existing := range result.Labels {
			if existing == label {
				return
			}
		}
		result.Labels = append(result.Labels, label)
	}

	var visit func(value interface{})
	visit = func(value interface{}) {
		if list, ok := value.([]interface{}); ok {
			for _, item := range list {
				visit(item)
			}
			return
		}
		row, ok := adapter.AsRecord(value)
		if !ok {
			return
		}

		eventTypeRaw := parseText(row["eventType"])
		if eventTypeRaw == "" {
			eventTypeRaw = parseText(row["event_type"])
		}
		if eventTypeRaw == "" {
			eventTypeRaw = parseText(row["type"])
		}
		if eventTypeRaw == "" {
			for _, field := range wrapperFields {
				visit(row[field])
			}
			return
		}
		envelopeType := strings.ToLower(eventTypeRaw)
		if envelopeType != "crowd" && envelopeType != "safety" && envelopeType != "cleaning" {
			return
		}

		data, _ := adapter.AsRecord(row["data"])
		timestampMs, ok := parseEnvelopeEpoch(row["timestamp"])
		if !ok {
			timestampMs = time.Now().UnixMilli()
		}
		deviceID := parseText(row["deviceId"])
		if deviceID == "" {
			deviceID = parseText(row["device_id"])
		}
		if deviceID == "" {
			deviceID = parseText(row["camera_id"])
		}
		if deviceID == "" {
			deviceID = "camera-edge-01"
		}
		severityText := parseText(row["severity"])
		zoneID := parseText(data["zone_id"])
		if zoneID == "" {
			zoneID = parseText(row["zone_id"])
		}
		if zoneID == "" {
			zoneID = "Store_Main"
		}
		count := 0
		if n, ok := parseNumber(data["count"]); ok && n > 0 {
			count = int(math.Round(n))
		}

		if envelopeType == "crowd" {
			congestionLevel := parseText(data["congestion_level"])
			if congestionLevel == "" {
				congestionLevel = "Unknown"
			}
			result.Patch.Crowd = &models.CrowdSignal{
				UpdatedAt:       timestampMs,
				DeviceID:        deviceID,
				ZoneID:          zoneID,
				Count:           count,
				Tone:            CongestionToTone(congestionLevel),
				CongestionLevel: congestionLevel,
			}
			applyLabel(LabelCrowd)
			return
		}

		var objects []map[string]interface{}
		if list, ok := data["objects"].([]interface{}); ok {
			for _, item := range list {
				if obj, ok := adapter.AsRecord(item); ok {
					objects = append(objects, obj)
				}
			}
		}

		frame, ok := adapter.AsRecord(data["frame"])
		if !ok {
			frame, _ = adapter.AsRecord(row["frame"])
		}
		frameWidth := 1280.0
		if n, ok := parseNumber(frame["width"]); ok {
			frameWidth = math.Max(1, n)
		}
		frameHeight := 720.0
		if n, ok := parseNumber(frame["height"]); ok {
			frameHeight = math.Max(1, n)
		}

		for index, object := range objects {
			built := p.buildObjectEvent(objectEventInput{
				envelopeType: envelopeType,
				deviceID:     deviceID,
				severityText: severityText,
				timestampMs:  timestampMs,
				defaultZone:  zoneID,
				object:       object,
				index:        index,
				frameWidth:   frameWidth,
				frameHeight:  frameHeight,
			})
			if built != nil {
				result.GeneratedEvents = append(result.GeneratedEvents, *built)
			}
		}

		if envelopeType == "safety" {
			fallCount := 0
			for _, object := range objects {
				if strings.Contains(strings.ToLower(parseText(object["status"])), "fall") {
					fallCount++
				}
			}
			summary, action := "-", "-"
			if len(objects) > 0 {
				if vlm, ok := adapter.AsRecord(objects[0]["vlm_analysis"]); ok {
					if s := parseText(vlm["summary"]); s != "" {
						summary = s
					}
					if a := parseText(vlm["action"]); a != "" {
						action = a
					}
				}
			}
			signalCount := count
			if signalCount == 0 {
				signalCount = len(objects)
			}
			severity := severityText
			if severity == "" {
				severity = "-"
			}
			result.Patch.Safety = &models.SafetySignal{
				UpdatedAt: timestampMs,
				DeviceID:  deviceID,
				ZoneID:    zoneID,
				Count:     signalCount,
				Tone:      SeverityToTone(severityText),
				Severity:  severity,
				FallCount: fallCount,
				Summary:   summary,
				Action:    action,
			}
			applyLabel(LabelSafety)
			return
		}

		trashCount := 0
		for _, object := range objects {
			if strings.Contains(strings.ToLower(parseText(object["status"])), "trash") {
				trashCount++
			}
		}
		if trashCount == 0 {
			trashCount = len(objects)
		}
		signalCount := count
		if signalCount == 0 {
			signalCount = len(objects)
		}
		severity := severityText
		if severity == "" {
			severity = "Warning"
		}
		tone := SeverityToTone(severityText)
		if severityText == "" {
			tone = SeverityToTone("warning")
		}
		result.Patch.Trash = &models.TrashSignal{
			UpdatedAt:  timestampMs,
			DeviceID:   deviceID,
			ZoneID:     zoneID,
			Count:      signalCount,
			Tone:       tone,
			Severity:   severity,
			TrashCount: trashCount,
		}
		applyLabel(LabelTrash)
	}

	visit(payload)
	return result
}
