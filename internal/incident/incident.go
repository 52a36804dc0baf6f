// Package incident 事件处理生命周期：new → ack → resolved 单向推进，
// 以及附带的追加写时间线。
package incident

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"storewatch-ingest/internal/models"
)

// TimelineMax 时间线保留上限
const TimelineMax = 240

// 近期重复的时间线条目不再追加
const dedupeWindowMs = 30_000

// statusRank 状态只能向前推进
var statusRank = map[models.IncidentStatus]int{
	models.StatusNew:      0,
	models.StatusAck:      1,
	models.StatusResolved: 2,
}

// CanTransition 状态迁移是否允许（只进不退，原地迁移视为无效）
func CanTransition(from, to models.IncidentStatus) bool {
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// NewTimelineEntry 构造时间线条目（uuid ID，at 为写入时刻）
func NewTimelineEntry(event *models.Event, action models.IncidentAction, actor string, from, to models.IncidentStatus, note string) models.IncidentTimelineEntry {
	return models.IncidentTimelineEntry{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		ZoneID:     event.ZoneID,
		Action:     action,
		Actor:      actor,
		At:         time.Now().UnixMilli(),
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	}
}

// AppendTimeline 追加时间线条目：近窗口内的重复丢弃，按时间降序
// 排序并截断到上限
func AppendTimeline(timeline []models.IncidentTimelineEntry, entry models.IncidentTimelineEntry) []models.IncidentTimelineEntry {
	for _, existing := range timeline {
		if existing.EventID == entry.EventID &&
			existing.Action == entry.Action &&
			existing.Actor == entry.Actor &&
			existing.FromStatus == entry.FromStatus &&
			existing.ToStatus == entry.ToStatus &&
			existing.Note == entry.Note &&
			absInt64(entry.At-existing.At) <= dedupeWindowMs {
			return timeline
		}
	}

	next := make([]models.IncidentTimelineEntry, 0, len(timeline)+1)
	next = append(next, entry)
	next = append(next, timeline...)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].At > next[j].At
	})
	if len(next) > TimelineMax {
		next = next[:TimelineMax]
	}
	return next
}

// ApplyStatusChange 推进事件状态并产出对应的时间线条目
//
// 非法迁移（后退或原地）返回 (nil, false)，调用方不做任何变更。
func ApplyStatusChange(event *models.Event, to models.IncidentStatus, action models.IncidentAction, actor, note string) (*models.IncidentTimelineEntry, bool) {
	if !CanTransition(event.IncidentStatus, to) {
		return nil, false
	}
	from := event.IncidentStatus
	event.IncidentStatus = to
	entry := NewTimelineEntry(event, action, actor, from, to, note)
	return &entry, true
}

// Dispatch 记录现场派遣；new 状态的事件隐式推进到 ack
//
// 已解决的事件不再派遣，返回 (nil, false)。
func Dispatch(event *models.Event, actor, note string) (*models.IncidentTimelineEntry, bool) {
	if event.IncidentStatus == models.StatusResolved {
		return nil, false
	}
	from := event.IncidentStatus
	to := from
	if from == models.StatusNew {
		to = models.StatusAck
		event.IncidentStatus = to
	}
	entry := NewTimelineEntry(event, models.ActionDispatch, actor, from, to, note)
	return &entry, true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
