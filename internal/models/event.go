package models

// EventType 事件类型
type EventType string

const (
	EventTypeCrowd     EventType = "crowd"
	EventTypeFall      EventType = "fall"
	EventTypeFight     EventType = "fight"
	EventTypeLoitering EventType = "loitering"
	EventTypeUnknown   EventType = "unknown"
)

// EventSource 事件来源
type EventSource string

const (
	SourceDemo    EventSource = "demo"
	SourceCamera  EventSource = "camera"
	SourceAPI     EventSource = "api"
	SourceUnknown EventSource = "unknown"
)

// IncidentStatus 事件处理状态
type IncidentStatus string

const (
	StatusNew      IncidentStatus = "new"
	StatusAck      IncidentStatus = "ack"
	StatusResolved IncidentStatus = "resolved"
)

// IncidentAction 时间线动作类型
type IncidentAction string

const (
	ActionDetected IncidentAction = "detected"
	ActionAck      IncidentAction = "ack"
	ActionDispatch IncidentAction = "dispatch"
	ActionResolved IncidentAction = "resolved"
)

// Event 标准化后的安全/运营事件（规范化管线的唯一输出单位）
//
// 不变量：
// - X/Y 已被钳制到 [0,1]，越界的 Event 不允许被构造
// - Severity ∈ {1,2,3}，Confidence ∈ [0,1]
// - LatencyMs 非负
type Event struct {
	ID             string         `json:"id"`
	StoreID        string         `json:"store_id"`
	DetectedAt     int64          `json:"detected_at"` // epoch ms（模型检测时刻）
	IngestedAt     int64          `json:"ingested_at"` // epoch ms（平台接收时刻）
	LatencyMs      int64          `json:"latency_ms"`
	Type           EventType      `json:"type"`
	Severity       int            `json:"severity"`   // 1..3
	Confidence     float64        `json:"confidence"` // 0..1
	ZoneID         string         `json:"zone_id"`
	CameraID       string         `json:"camera_id,omitempty"`
	TrackID        string         `json:"track_id,omitempty"`
	ObjectLabel    string         `json:"object_label,omitempty"`
	RawStatus      string         `json:"raw_status,omitempty"`
	Source         EventSource    `json:"source"`
	ModelVersion   string         `json:"model_version,omitempty"`
	IncidentStatus IncidentStatus `json:"incident_status"`
	X              float64        `json:"x"` // 地图归一化坐标 0..1
	Y              float64        `json:"y"` // 地图归一化坐标 0..1
	WorldXM        *float64       `json:"world_x_m,omitempty"` // 世界坐标（米）
	WorldZM        *float64       `json:"world_z_m,omitempty"`
	Note           string         `json:"note,omitempty"`
}

// IncidentTimelineEntry 事件处理时间线条目（追加写，不修改）
type IncidentTimelineEntry struct {
	ID         string         `json:"id"`
	EventID    string         `json:"event_id"`
	ZoneID     string         `json:"zone_id"`
	Action     IncidentAction `json:"action"`
	Actor      string         `json:"actor"`
	At         int64          `json:"at"` // epoch ms
	FromStatus IncidentStatus `json:"from_status,omitempty"`
	ToStatus   IncidentStatus `json:"to_status,omitempty"`
	Note       string         `json:"note,omitempty"`
}

// SyncMode 同步模式
type SyncMode string

const (
	SyncModeMerge   SyncMode = "merge"
	SyncModeReplace SyncMode = "replace"
)

// SyncBatch 归一化后的一个入站批次（FeedNormalizer 的输出）
//
// 同一个批次可以同时携带事件 upsert、删除 ID 和信号面板补丁。
type SyncBatch struct {
	Mode         SyncMode    `json:"mode"`
	Upsert       []Event     `json:"upsert"`
	RemoveIDs    []string    `json:"remove_ids"`
	SignalPatch  SignalPatch `json:"signal_patch"`
	SignalLabels []string    `json:"signal_labels"`
}

// IsEmpty 批次是否不携带任何变更
//
// replace 批次即使零事件也算变更：权威重同步要清掉全部非固定事件。
func (b SyncBatch) IsEmpty() bool {
	if b.Mode == SyncModeReplace {
		return false
	}
	return len(b.Upsert) == 0 && len(b.RemoveIDs) == 0 &&
		b.SignalPatch.Crowd == nil && b.SignalPatch.Safety == nil && b.SignalPatch.Trash == nil
}
