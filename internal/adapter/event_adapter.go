// Package adapter 把各家上游的原始事件记录适配成标准 Event。
//
// 上游字段命名五花八门，适配全部靠数据化的候选路径表，
// 解析失败的记录直接丢弃，不中断批次。
package adapter

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/zonemap"
)

// 各字段的候选路径表（顺序即优先级）
var (
	cameraIDPaths = []string{"camera_id", "cameraId", "camera.id", "device_id", "deviceId", "device.id"}
	trackIDPaths  = []string{"track_id", "trackId", "tracking_id", "trackingId", "object_id", "objectId"}
	eventIDPaths  = []string{"id", "event_id", "eventId", "uuid", "alarm_id", "alarmId", "alert_id", "alertId"}

	detectedAtPaths = []string{"detected_at", "detectedAt", "ts", "timestamp", "created_at", "createdAt", "time"}
	ingestedAtPaths = []string{"ingested_at", "ingestedAt", "received_at", "receivedAt", "updated_at", "updatedAt"}
	latencyPaths    = []string{"latency_ms", "latencyMs", "latency", "delay_ms"}

	typePaths       = []string{"type", "event_type", "eventType", "category", "event_name", "label"}
	typeStatusPaths = []string{"status", "state", "event_status", "eventState"}
	severityPaths   = []string{"severity", "priority", "level", "risk", "risk_level", "riskLevel", "status", "state"}
	confidencePaths = []string{"confidence", "score", "probability", "confidence_score", "confidenceScore"}
	incidentPaths   = []string{"incident_status", "incidentStatus", "status", "state", "resolution", "result.status"}

	storeIDPaths = []string{"store_id", "storeId", "store.id", "site_id", "siteId", "shop_id", "shopId"}
	sourcePaths  = []string{"source", "provider", "channel", "origin", "ingest_source"}
	labelPaths   = []string{"label", "object.label", "class", "class_name", "object.class", "event_label"}
	statusPaths  = []string{"status", "state", "event_status", "result.status", "payload.status"}
	modelPaths   = []string{"model_version", "modelVersion", "model.version"}

	zoneIDPaths = []string{
		"zone_id", "zoneId", "zone.id", "zone.zone_id",
		"location.zone_id", "location.zoneId", "area_id", "areaId",
	}

	normXPaths = []string{
		"x", "x_norm", "xNorm",
		"position.x", "position.x_norm", "position.xNorm",
		"location.x", "location.x_norm", "location.xNorm",
		"coord.x", "coordinates.x", "point.x", "geo.x",
	}
	normYPaths = []string{
		"y", "y_norm", "yNorm",
		"position.y", "position.y_norm", "position.yNorm",
		"location.y", "location.y_norm", "location.yNorm",
		"coord.y", "coordinates.y", "point.y", "geo.y",
	}
	pairPaths = []string{"position", "location", "coord", "coordinates", "point"}

	worldXPaths = []string{
		"world.x", "worldX", "world_x",
		"position.world.x", "position_world.x",
		"location.world.x", "location.world_x", "location.x_m", "x_m",
	}
	worldYPaths = []string{
		"world.y", "worldY", "world_y",
		"position.world.y", "position_world.y",
		"location.world.y", "location.world_y", "location.y_m", "y_m",
	}
	worldZPaths = []string{
		"world.z", "worldZ", "world_z",
		"position.world.z", "position_world.z",
		"location.world.z", "location.world_z", "location.z_m", "z_m",
	}

	notePaths   = []string{"note", "message", "description", "reason", "summary", "vlm_analysis.summary"}
	causePaths  = []string{"vlm_analysis.cause", "analysis.cause"}
	actionPaths = []string{"vlm_analysis.action", "analysis.action", "action", "recommended_action"}
)

var severityDigits = regexp.MustCompile(`[^0-9.]`)

// coordinates 解析出的事件位置（归一化 + 世界坐标）
type coordinates struct {
	x      float64
	y      float64
	worldX float64
	worldZ float64
}

// Adapter 原始事件适配器
type Adapter struct {
	zones           *zonemap.Resolver
	transform       *geometry.Transform
	worldOffsetX    float64
	worldOffsetZ    float64
	fallbackStoreID string
	defaultSource   models.EventSource
}

// NewAdapter 创建适配器
//
// transform 用于世界坐标与平面图坐标互转，区域归属由 zones 解析。
func NewAdapter(zones *zonemap.Resolver, transform *geometry.Transform, fallbackStoreID string, defaultSource models.EventSource) *Adapter {
	if fallbackStoreID == "" {
		fallbackStoreID = "s001"
	}
	if defaultSource == "" {
		defaultSource = models.SourceUnknown
	}
	return &Adapter{
		zones:           zones,
		transform:       transform,
		worldOffsetX:    zones.Document().WorldOffsetX(),
		worldOffsetZ:    zones.Document().WorldOffsetZ(),
		fallbackStoreID: fallbackStoreID,
		defaultSource:   defaultSource,
	}
}

// normalizeType 事件类型归一化
func normalizeType(value interface{}) models.EventType {
	s, ok := value.(string)
	if !ok {
		return models.EventTypeUnknown
	}
	switch normalized := strings.ToLower(strings.TrimSpace(s)); normalized {
	case "crowd", "fall", "fight", "loitering", "unknown":
		return models.EventType(normalized)
	case "fall_down", "slip", "slipfall", "trip":
		return models.EventTypeFall
	case "violence", "assault", "aggressive":
		return models.EventTypeFight
	case "queue", "congestion", "crowding":
		return models.EventTypeCrowd
	case "loiter", "idle", "linger":
		return models.EventTypeLoitering
	}
	return models.EventTypeUnknown
}

// normalizeSeverity 严重度归一化到 1..3
//
// 识别 p1/p2/p3、l1/l2/l3 和常见英文词；完全缺失时按事件类型
// 给默认值（fall/fight=3，crowd=2，其余 1）。
func normalizeSeverity(value interface{}, eventType models.EventType) int {
	if s, ok := value.(string); ok {
		switch normalized := strings.ToLower(strings.TrimSpace(s)); normalized {
		case "p1", "l3", "high", "critical", "severe", "urgent":
			return 3
		case "p2", "l2", "medium", "med", "moderate":
			return 2
		case "p3", "l1", "low", "minor":
			return 1
		default:
			digits := severityDigits.ReplaceAllString(normalized, "")
			if asNum, err := strconv.ParseFloat(digits, 64); err == nil && asNum >= 1 && asNum <= 3 {
				return int(math.Round(asNum))
			}
		}
	} else if n, ok := parseNumber(value); ok {
		// 数字分支只收真正的数值；词表和数字都对不上的字符串走类型默认
		if n >= 3 {
			return 3
		}
		if n >= 2 {
			return 2
		}
		return 1
	}

	switch eventType {
	case models.EventTypeFall, models.EventTypeFight:
		return 3
	case models.EventTypeCrowd:
		return 2
	}
	return 1
}

// normalizeIncidentStatus 处理状态归一化
func normalizeIncidentStatus(value interface{}) models.IncidentStatus {
	s, ok := value.(string)
	if !ok {
		return models.StatusNew
	}
	switch normalized := strings.ToLower(strings.TrimSpace(s)); normalized {
	case "new", "ack", "resolved":
		return models.IncidentStatus(normalized)
	case "open", "opened", "detected", "created", "new_alert":
		return models.StatusNew
	case "acknowledged", "acknowledge", "in_progress", "processing", "dispatched":
		return models.StatusAck
	case "closed", "done", "resolved_done", "complete", "completed":
		return models.StatusResolved
	}
	return models.StatusNew
}

// normalizeSource 来源归一化
func normalizeSource(value interface{}, fallback models.EventSource) models.EventSource {
	s, ok := value.(string)
	if !ok {
		return fallback
	}
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "demo", "camera", "api", "unknown":
		return models.EventSource(normalized)
	}
	if strings.Contains(normalized, "camera") {
		return models.SourceCamera
	}
	if strings.Contains(normalized, "demo") {
		return models.SourceDemo
	}
	if normalized != "" {
		return models.SourceAPI
	}
	return fallback
}

// normalizeConfidence 置信度归一化到 0..1
//
// (1,100] 视为百分比；缺失时按严重度给默认值。
func normalizeConfidence(value interface{}, severity int) float64 {
	if parsed, ok := parseNumber(value); ok {
		if parsed > 1 && parsed <= 100 {
			return geometry.Clamp01(parsed / 100)
		}
		return geometry.Clamp01(parsed)
	}
	switch severity {
	case 3:
		return 0.92
	case 2:
		return 0.84
	}
	return 0.78
}

// normalizeCoordinate 归一化坐标分量：接受 0..1，或 0..100 的百分比
func normalizeCoordinate(value interface{}) (float64, bool) {
	parsed, ok := parseNumber(value)
	if !ok {
		return 0, false
	}
	if parsed >= 0 && parsed <= 1 {
		return parsed, true
	}
	if parsed >= 0 && parsed <= 100 {
		return geometry.Clamp01(parsed / 100), true
	}
	return 0, false
}

func (a *Adapter) extractNormXY(record map[string]interface{}) (float64, float64, bool) {
	x, okX := normalizeCoordinate(PickValue(record, normXPaths))
	y, okY := normalizeCoordinate(PickValue(record, normYPaths))
	if okX && okY {
		return x, y, true
	}

	// position/location 等字段可能直接是 [x, y] 数组
	if pair, ok := PickValue(record, pairPaths).([]interface{}); ok && len(pair) >= 2 {
		px, okPX := normalizeCoordinate(pair[0])
		py, okPY := normalizeCoordinate(pair[1])
		if okPX && okPY {
			return px, py, true
		}
	}
	return 0, 0, false
}

func (a *Adapter) extractWorld(record map[string]interface{}) (*coordinates, bool) {
	worldX, okX := parseNumber(PickValue(record, worldXPaths))
	worldZ, okZ := parseNumber(PickValue(record, worldZPaths))
	if !okX || !okZ {
		return nil, false
	}
	// worldY 只是部分上游携带的高度，读出来即可丢弃
	_, _ = parseNumber(PickValue(record, worldYPaths))

	norm := a.transform.WorldToMapNorm(worldX-a.worldOffsetX, worldZ-a.worldOffsetZ)
	return &coordinates{x: norm.X, y: norm.Y, worldX: worldX, worldZ: worldZ}, true
}

// extractCoordinates 位置解析：归一化坐标优先，世界坐标兜底
func (a *Adapter) extractCoordinates(record map[string]interface{}) (*coordinates, bool) {
	if x, y, ok := a.extractNormXY(record); ok {
		worldX, worldZ := a.transform.NormToWorld(x, y, a.worldOffsetX, a.worldOffsetZ)
		return &coordinates{x: x, y: y, worldX: worldX, worldZ: worldZ}, true
	}
	return a.extractWorld(record)
}

// resolveEventType 先看类型字段，再从状态字段里捞
func resolveEventType(record map[string]interface{}) models.EventType {
	primary := normalizeType(PickValue(record, typePaths))
	if primary != models.EventTypeUnknown {
		return primary
	}
	return normalizeType(PickValue(record, typeStatusPaths))
}

// extractNote 拼接备注：正文 + cause/action 标签
func extractNote(record map[string]interface{}) string {
	chunks := make([]string, 0, 3)
	if direct := parseText(PickValue(record, notePaths)); direct != "" {
		chunks = append(chunks, direct)
	}
	if cause := parseText(PickValue(record, causePaths)); cause != "" {
		chunks = append(chunks, "cause:"+cause)
	}
	if action := parseText(PickValue(record, actionPaths)); action != "" {
		chunks = append(chunks, "action:"+action)
	}
	return strings.Join(chunks, " | ")
}

// AdaptRawEvent 将单条原始记录适配为标准事件
//
// 缺少可用 ID、可信时间戳或位置的记录返回 nil（丢弃）。
func (a *Adapter) AdaptRawEvent(value interface{}) *models.Event {
	record, ok := AsRecord(value)
	if !ok {
		return nil
	}

	cameraID := parseID(PickValue(record, cameraIDPaths))
	trackID := parseID(PickValue(record, trackIDPaths))
	id := parseID(PickValue(record, eventIDPaths))
	if id == "" && trackID != "" {
		// 无显式 ID 时用相机+轨迹合成稳定 ID
		cam := cameraID
		if cam == "" {
			cam = "cam-unknown"
		}
		id = cam + ":track-" + trackID
	}
	if id == "" {
		return nil
	}

	detectedAt, ok := parseEpochMs(PickValue(record, detectedAtPaths))
	if !ok {
		return nil
	}
	ingestedAt, ok := parseEpochMs(PickValue(record, ingestedAtPaths))
	if !ok {
		ingestedAt = detectedAt
	}

	var latencyMs int64
	if latencyRaw, ok := parseNumber(PickValue(record, latencyPaths)); ok {
		latencyMs = int64(math.Round(latencyRaw))
	} else {
		latencyMs = ingestedAt - detectedAt
	}
	if latencyMs < 0 {
		latencyMs = 0
	}

	eventType := resolveEventType(record)
	severity := normalizeSeverity(PickValue(record, severityPaths), eventType)
	confidence := normalizeConfidence(PickValue(record, confidencePaths), severity)
	incidentStatus := normalizeIncidentStatus(PickValue(record, incidentPaths))

	coords, ok := a.extractCoordinates(record)
	if !ok {
		return nil
	}
	zoneID := a.zones.Resolve(coords.x, coords.y, parseID(PickValue(record, zoneIDPaths)))

	storeID := parseID(PickValue(record, storeIDPaths))
	if storeID == "" {
		storeID = a.fallbackStoreID
	}

	worldX := coords.worldX
	worldZ := coords.worldZ

	event := &models.Event{
		ID:             id,
		StoreID:        storeID,
		DetectedAt:     detectedAt,
		IngestedAt:     ingestedAt,
		LatencyMs:      latencyMs,
		Type:           eventType,
		Severity:       severity,
		Confidence:     confidence,
		ZoneID:         zoneID,
		CameraID:       cameraID,
		TrackID:        trackID,
		Source:         normalizeSource(PickValue(record, sourcePaths), a.defaultSource),
		ModelVersion:   parseID(PickValue(record, modelPaths)),
		IncidentStatus: incidentStatus,
		X:              geometry.Clamp01(coords.x),
		Y:              geometry.Clamp01(coords.y),
		WorldXM:        &worldX,
		WorldZM:        &worldZ,
		Note:           extractNote(record),
	}
	if label, ok := PickValue(record, labelPaths).(string); ok {
		event.ObjectLabel = label
	}
	if status, ok := PickValue(record, statusPaths).(string); ok {
		event.RawStatus = status
	}
	return event
}

// NormalizeEventFeed 适配一批原始记录并整理成稳定的事件列表
//
// 同 ID 去重保留 (detected_at, ingested_at) 最大的一条；
// 排序按 detected_at 降序、ingested_at 降序、id 升序；
// maxEvents 钳制在 1..1000。
func (a *Adapter) NormalizeEventFeed(raw []interface{}, maxEvents int) []models.Event {
	if len(raw) == 0 {
		return []models.Event{}
	}
	if maxEvents < 1 {
		maxEvents = 1
	}
	if maxEvents > 1000 {
		maxEvents = 1000
	}

	deduped := make(map[string]models.Event, len(raw))
	order := make([]string, 0, len(raw))
	for _, item := range raw {
		event := a.AdaptRawEvent(item)
		if event == nil {
			continue
		}
		existing, seen := deduped[event.ID]
		if !seen {
			deduped[event.ID] = *event
			order = append(order, event.ID)
			continue
		}
		if event.DetectedAt > existing.DetectedAt ||
			(event.DetectedAt == existing.DetectedAt && event.IngestedAt > existing.IngestedAt) {
			deduped[event.ID] = *event
		}
	}

	events := make([]models.Event, 0, len(order))
	for _, id := range order {
		events = append(events, deduped[id])
	}
	SortEvents(events)
	if len(events) > maxEvents {
		events = events[:maxEvents]
	}
	return events
}

// SortEvents 按 detected_at 降序、ingested_at 降序、id 升序稳定排序
func SortEvents(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].DetectedAt != events[j].DetectedAt {
			return events[i].DetectedAt > events[j].DetectedAt
		}
		if events[i].IngestedAt != events[j].IngestedAt {
			return events[i].IngestedAt > events[j].IngestedAt
		}
		return events[i].ID < events[j].ID
	})
}
