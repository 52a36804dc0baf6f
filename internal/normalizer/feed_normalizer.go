// Package normalizer 把任意形态的入站载荷整理成同步批次。
//
// 入站形态包括：JSON 文本、记录数组、心跳、边缘相机的 data.objects
// 信封、常见数组包装字段、单条记录以及纯删除指令。所有形态最终都
// 汇成同一个 SyncBatch。
package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/models"
	"storewatch-ingest/internal/signals"
)

// 置信度低于该值且类型未知、严重度 1 的 upsert 视为噪声丢弃
const lowSignalConfidenceCutoff = 0.2

var (
	recordIDPaths = []string{
		"id", "event_id", "eventId", "uuid", "alarm_id", "alarmId",
		"alert_id", "alertId", "payload.id", "payload.event_id", "payload.eventId",
	}

	syncModePaths = []string{
		"sync_mode", "syncMode", "sync.mode", "sync.strategy",
		"payload.sync_mode", "payload.sync.mode", "meta.sync_mode",
		"meta.sync.mode", "payload.mode", "mode",
	}
	snapshotFlagPaths = []string{
		"snapshot", "full_sync", "fullSync", "sync.snapshot", "sync.full_sync",
	}
	typeFieldPaths = []string{
		"type", "event_type", "eventType", "kind", "topic", "message_type",
	}

	operationPaths = []string{
		"op", "operation", "event_op", "event_operation",
		"sync.op", "sync.operation", "meta.op", "meta.operation",
	}

	removeIDListPaths = []string{
		"deleted_ids", "removed_ids", "delete_ids", "remove_ids",
		"payload.deleted_ids", "payload.removed_ids",
		"payload.delete_ids", "payload.remove_ids",
		"sync.deleted_ids", "sync.removed_ids",
		"payload.sync.deleted_ids", "payload.sync.removed_ids",
	}
	removeObjListPaths = []string{
		"deleted", "removed", "payload.deleted", "payload.removed",
		"sync.deleted", "sync.removed",
		"payload.sync.deleted", "payload.sync.removed",
	}
	nestedDeletePaths = []string{
		"event", "alert", "payload.event", "payload.alert",
		"payload.data.event", "message.event", "message.alert",
	}

	edgeObjectPaths = []string{
		"data.objects", "payload.data.objects", "payload.objects",
		"message.data.objects", "message.objects",
	}
	arrayCandidatePaths = []string{
		"events", "data", "records", "results", "items", "alerts",
		"payload.events", "payload.records", "payload.items", "payload.alerts",
		"message.events", "message.items", "stream.events",
		"sync.events", "payload.sync.events",
	}
	singleCandidatePaths = []string{
		"event", "alert", "payload.event", "payload.alert",
		"payload.data", "message.event", "message.alert",
	}

	// 边缘对象继承父信封的字段（对象自身的值优先）
	inheritTimestampPaths = []string{"timestamp", "detected_at", "detectedAt", "ts", "time"}
	inheritDevicePaths    = []string{"deviceId", "device_id", "cameraId", "camera_id", "camera.id"}
	inheritTypePaths      = []string{"eventType", "event_type", "type", "category", "event_name"}
	inheritSeverityPaths  = []string{"severity", "priority", "level", "risk", "risk_level"}
	inheritSourcePaths    = []string{"source", "provider", "channel", "origin"}
	inheritStorePaths     = []string{"store_id", "storeId", "store.id", "site_id", "siteId", "shop_id", "shopId"}
	objectFramePaths      = []string{"frame", "location.frame"}
	parentFramePaths      = []string{"frame", "data.frame", "meta.frame"}
	objectNotePaths       = []string{"note", "message", "description", "reason", "summary"}
)

// FeedNormalizer 入站载荷归一化器
type FeedNormalizer struct {
	adapter   *adapter.Adapter
	signals   *signals.Parser
	maxEvents int
}

// NewFeedNormalizer 创建归一化器；maxEvents 钳制在 1..1000
func NewFeedNormalizer(a *adapter.Adapter, p *signals.Parser, maxEvents int) *FeedNormalizer {
	if maxEvents < 1 {
		maxEvents = 1
	}
	if maxEvents > 1000 {
		maxEvents = 1000
	}
	return &FeedNormalizer{adapter: a, signals: p, maxEvents: maxEvents}
}

// parseMaybeJSON 字符串载荷先按 JSON 解一层，解不开原样返回
func parseMaybeJSON(payload interface{}) interface{} {
	s, ok := payload.(string)
	if !ok {
		return payload
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return payload
	}
	return decoded
}

func toIDString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ""
		}
		// JSON 解码里数值 ID 也是 float64，整数不带小数点输出
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func parseEventIDFromRecord(record map[string]interface{}) string {
	return toIDString(adapter.PickValue(record, recordIDPaths))
}

// parseSyncModeValue 单个值 → 同步模式；布尔值按 snapshot 标志解释
func parseSyncModeValue(value interface{}) (models.SyncMode, bool) {
	if b, ok := value.(bool); ok {
		if b {
			return models.SyncModeReplace, true
		}
		return models.SyncModeMerge, true
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return "", false
	}
	for _, token := range []string{"replace", "snapshot", "full_sync", "full-sync", "fullsync", "resync"} {
		if strings.Contains(text, token) {
			return models.SyncModeReplace, true
		}
	}
	for _, token := range []string{"merge", "upsert", "delta", "incremental", "patch"} {
		if strings.Contains(text, token) {
			return models.SyncModeMerge, true
		}
	}
	return "", false
}

// parseSyncMode 从显式模式字段、snapshot 标志或类型字段推断同步模式
func parseSyncMode(record map[string]interface{}) models.SyncMode {
	if mode, ok := parseSyncModeValue(adapter.PickValue(record, syncModePaths)); ok {
		return mode
	}
	if mode, ok := parseSyncModeValue(adapter.PickValue(record, snapshotFlagPaths)); ok {
		return mode
	}
	if mode, ok := parseSyncModeValue(adapter.PickValue(record, typeFieldPaths)); ok {
		return mode
	}
	return models.SyncModeMerge
}

type recordOperation int

const (
	opNone recordOperation = iota
	opUpsert
	opRemove
)

func parseRecordOperation(record map[string]interface{}) recordOperation {
	s, ok := adapter.PickValue(record, operationPaths).(string)
	if !ok {
		return opNone
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delete", "deleted", "remove", "removed", "clear", "cleared", "dismiss", "dismissed":
		return opRemove
	case "upsert", "create", "created", "insert", "update", "updated", "patch", "add":
		return opUpsert
	}
	return opNone
}

func parseIDList(value interface{}) []string {
	list, ok := value.([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if record, ok := adapter.AsRecord(item); ok {
			if id := parseEventIDFromRecord(record); id != "" {
				ids = append(ids, id)
			}
			continue
		}
		if id := toIDString(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseDeleteTypeEventID 类型文本暗示删除（"...deleted" 等）时取其目标 ID
func parseDeleteTypeEventID(record map[string]interface{}) string {
	s, ok := adapter.PickValue(record, typeFieldPaths).(string)
	if !ok {
		return ""
	}
	typeText := strings.ToLower(strings.TrimSpace(s))
	if typeText == "" {
		return ""
	}
	impliesDelete := false
	for _, token := range []string{"deleted", "delete", "removed", "remove", "cleared", "clear"} {
		if strings.Contains(typeText, token) {
			impliesDelete = true
			break
		}
	}
	if !impliesDelete {
		return ""
	}
	if id := parseEventIDFromRecord(record); id != "" {
		return id
	}
	if nested, ok := adapter.AsRecord(adapter.PickValue(record, nestedDeletePaths)); ok {
		return parseEventIDFromRecord(nested)
	}
	return ""
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// collectRemoveIDs 汇总记录里所有形态的删除 ID
func collectRemoveIDs(record map[string]interface{}) []string {
	var ids []string
	for _, path := range removeIDListPaths {
		ids = append(ids, parseIDList(adapter.ReadPath(record, path))...)
	}
	for _, path := range removeObjListPaths {
		ids = append(ids, parseIDList(adapter.ReadPath(record, path))...)
	}
	if parseRecordOperation(record) == opRemove {
		if id := parseEventIDFromRecord(record); id != "" {
			ids = append(ids, id)
		}
	}
	if id := parseDeleteTypeEventID(record); id != "" {
		ids = append(ids, id)
	}
	return dedupeIDs(ids)
}

// dropLowSignal 过滤噪声事件（未知类型 + 最低严重度 + 低置信度）
func dropLowSignal(events []models.Event) []models.Event {
	kept := events[:0]
	for _, event := range events {
		if event.Type == models.EventTypeUnknown && event.Severity == 1 &&
			event.Confidence < lowSignalConfidenceCutoff {
			continue
		}
		kept = append(kept, event)
	}
	return kept
}

// normalizeRecordsForSync 把一组记录拆成 upsert 事件和删除 ID
func (n *FeedNormalizer) normalizeRecordsForSync(rows []interface{}) ([]models.Event, []string) {
	upsertCandidates := make([]interface{}, 0, len(rows))
	var removeIDs []string

	for _, row := range rows {
		if record, ok := adapter.AsRecord(row); ok && parseRecordOperation(record) == opRemove {
			if id := parseEventIDFromRecord(record); id != "" {
				removeIDs = append(removeIDs, id)
			}
			continue
		}
		upsertCandidates = append(upsertCandidates, row)
	}

	var upsert []models.Event
	if len(upsertCandidates) > 0 {
		upsert = dropLowSignal(n.adapter.NormalizeEventFeed(upsertCandidates, n.maxEvents))
	}
	return upsert, dedupeIDs(removeIDs)
}

// normalizeEdgeObject 把 data.objects 里的对象与父信封字段合并成独立记录
//
// 对象自身的值优先，缺失的时间戳/设备/类型/严重度/来源/门店从父信封继承。
func normalizeEdgeObject(parent map[string]interface{}, value interface{}) map[string]interface{} {
	objectRecord, ok := adapter.AsRecord(value)
	if !ok {
		return nil
	}

	merged := make(map[string]interface{}, len(objectRecord)+8)
	for k, v := range objectRecord {
		merged[k] = v
	}

	inherit := func(key string, paths []string) {
		if v := adapter.PickValue(objectRecord, paths); v != nil {
			merged[key] = v
		} else if v := adapter.PickValue(parent, paths); v != nil {
			merged[key] = v
		}
	}
	inherit("timestamp", inheritTimestampPaths)
	inherit("deviceId", inheritDevicePaths)
	inherit("eventType", inheritTypePaths)
	inherit("severity", inheritSeverityPaths)
	inherit("source", inheritSourcePaths)
	inherit("store_id", inheritStorePaths)

	if v := adapter.PickValue(objectRecord, objectFramePaths); v != nil {
		merged["frame"] = v
	} else if v := adapter.PickValue(parent, parentFramePaths); v != nil {
		merged["frame"] = v
	}

	if note, ok := adapter.PickValue(objectRecord, objectNotePaths).(string); ok && strings.TrimSpace(note) != "" {
		merged["note"] = strings.TrimSpace(note)
	} else if vlmNote := composeVlmNote(objectRecord); vlmNote != "" {
		merged["note"] = vlmNote
	}

	return merged
}

func composeVlmNote(record map[string]interface{}) string {
	vlm, ok := adapter.AsRecord(record["vlm_analysis"])
	if !ok {
		return ""
	}
	chunks := make([]string, 0, 3)
	if summary, ok := vlm["summary"].(string); ok && strings.TrimSpace(summary) != "" {
		chunks = append(chunks, strings.TrimSpace(summary))
	}
	if cause, ok := vlm["cause"].(string); ok && strings.TrimSpace(cause) != "" {
		chunks = append(chunks, "cause:"+strings.TrimSpace(cause))
	}
	if action, ok := vlm["action"].(string); ok && strings.TrimSpace(action) != "" {
		chunks = append(chunks, "action:"+strings.TrimSpace(action))
	}
	return strings.Join(chunks, " | ")
}

func emptyBatch(mode models.SyncMode) models.SyncBatch {
	return models.SyncBatch{
		Mode:         mode,
		Upsert:       []models.Event{},
		RemoveIDs:    []string{},
		SignalLabels: []string{},
	}
}

// NormalizeBytes 解码 JSON 字节流后归一化；解码失败返回空批次
func (n *FeedNormalizer) NormalizeBytes(data []byte) models.SyncBatch {
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return emptyBatch(models.SyncModeMerge)
	}
	return n.Normalize(decoded)
}

// Normalize 归一化任意形态的入站载荷
//
// 决策顺序：JSON 文本解一层 → 数组 → 心跳 → data.objects 信封 →
// 常见数组包装字段 → 单条记录或删除指令。信号补丁在所有分支上
// 都会被提取。
func (n *FeedNormalizer) Normalize(payload interface{}) models.SyncBatch {
	parsed := parseMaybeJSON(payload)
	if parsed == nil {
		return emptyBatch(models.SyncModeMerge)
	}
	if _, stillText := parsed.(string); stillText {
		return emptyBatch(models.SyncModeMerge)
	}

	signal := n.signals.ParseSignalPayload(parsed)

	if rows, ok := parsed.([]interface{}); ok {
		upsert, removeIDs := n.normalizeRecordsForSync(rows)
		return models.SyncBatch{
			Mode:         models.SyncModeMerge,
			Upsert:       upsert,
			RemoveIDs:    removeIDs,
			SignalPatch:  signal.Patch,
			SignalLabels: signal.Labels,
		}
	}

	row, ok := adapter.AsRecord(parsed)
	if !ok {
		return emptyBatch(models.SyncModeMerge)
	}
	mode := parseSyncMode(row)
	rootRemoveIDs := collectRemoveIDs(row)

	if t, _ := row["type"].(string); t == "ping" || t == "heartbeat" {
		return models.SyncBatch{
			Mode:         mode,
			Upsert:       []models.Event{},
			RemoveIDs:    rootRemoveIDs,
			SignalPatch:  signal.Patch,
			SignalLabels: signal.Labels,
		}
	}

	if objectRows, ok := adapter.PickValue(row, edgeObjectPaths).([]interface{}); ok {
		normalizedRows := make([]interface{}, 0, len(objectRows))
		for _, objectRow := range objectRows {
			if merged := normalizeEdgeObject(row, objectRow); merged != nil {
				normalizedRows = append(normalizedRows, merged)
			}
		}
		upsert, removeIDs := n.normalizeRecordsForSync(normalizedRows)
		return models.SyncBatch{
			Mode:         mode,
			Upsert:       upsert,
			RemoveIDs:    dedupeIDs(append(rootRemoveIDs, removeIDs...)),
			SignalPatch:  signal.Patch,
			SignalLabels: signal.Labels,
		}
	}

	if arrayCandidate, ok := adapter.PickValue(row, arrayCandidatePaths).([]interface{}); ok {
		upsert, removeIDs := n.normalizeRecordsForSync(arrayCandidate)
		return models.SyncBatch{
			Mode:         mode,
			Upsert:       upsert,
			RemoveIDs:    dedupeIDs(append(rootRemoveIDs, removeIDs...)),
			SignalPatch:  signal.Patch,
			SignalLabels: signal.Labels,
		}
	}

	singleCandidate := adapter.PickValue(row, singleCandidatePaths)
	if singleCandidate == nil {
		singleCandidate = interface{}(row)
	}
	if singleRecord, ok := adapter.AsRecord(singleCandidate); ok && parseRecordOperation(singleRecord) == opRemove {
		removeIDs := rootRemoveIDs
		if id := parseEventIDFromRecord(singleRecord); id != "" {
			removeIDs = append(removeIDs, id)
		}
		return models.SyncBatch{
			Mode:         mode,
			Upsert:       []models.Event{},
			RemoveIDs:    dedupeIDs(removeIDs),
			SignalPatch:  signal.Patch,
			SignalLabels: signal.Labels,
		}
	}

	upsert := []models.Event{}
	if single := n.adapter.AdaptRawEvent(singleCandidate); single != nil {
		upsert = dropLowSignal([]models.Event{*single})
	}
	return models.SyncBatch{
		Mode:         mode,
		Upsert:       upsert,
		RemoveIDs:    rootRemoveIDs,
		SignalPatch:  signal.Patch,
		SignalLabels: signal.Labels,
	}
}
