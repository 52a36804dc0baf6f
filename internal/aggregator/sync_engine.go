package aggregator

import (
	"strings"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/models"
)

// 受保护的事件 ID 前缀：replace 全量同步也不会清掉
// 人工标注点和照片参照种子。
const (
	ManualMapEventPrefix = "manual-map-"
	PhotoSeedEventPrefix = "photo-log-"
)

// IsPinnedEventID 事件是否为受保护的固定记录
func IsPinnedEventID(eventID string) bool {
	return strings.HasPrefix(eventID, ManualMapEventPrefix) ||
		strings.HasPrefix(eventID, PhotoSeedEventPrefix)
}

// mergeEvent 同 ID 浅合并：新值胜，新记录缺失的可选字段沿用旧值
func mergeEvent(prev, next models.Event) models.Event {
	merged := next
	if merged.CameraID == "" {
		merged.CameraID = prev.CameraID
	}
	if merged.TrackID == "" {
		merged.TrackID = prev.TrackID
	}
	if merged.ObjectLabel == "" {
		merged.ObjectLabel = prev.ObjectLabel
	}
	if merged.RawStatus == "" {
		merged.RawStatus = prev.RawStatus
	}
	if merged.ModelVersion == "" {
		merged.ModelVersion = prev.ModelVersion
	}
	if merged.Note == "" {
		merged.Note = prev.Note
	}
	if merged.WorldXM == nil {
		merged.WorldXM = prev.WorldXM
	}
	if merged.WorldZM == nil {
		merged.WorldZM = prev.WorldZM
	}
	return merged
}

// mergeEvents 以 ID 为键合并，保持确定性排序
func mergeEvents(existing, incoming []models.Event) []models.Event {
	byID := make(map[string]models.Event, len(existing)+len(incoming))
	order := make([]string, 0, len(existing)+len(incoming))
	for _, event := range existing {
		if _, seen := byID[event.ID]; !seen {
			order = append(order, event.ID)
		}
		byID[event.ID] = event
	}
	for _, event := range incoming {
		if prev, seen := byID[event.ID]; seen {
			byID[event.ID] = mergeEvent(prev, event)
			continue
		}
		byID[event.ID] = event
		order = append(order, event.ID)
	}

	merged := make([]models.Event, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	adapter.SortEvents(merged)
	return merged
}

// ApplyIncomingSyncBatch 把同步批次应用到现有事件集合
//
// replace 模式先把基底裁剪到受保护记录再合并；removeIds 在两种
// 模式下都生效。结果重新排序并截断到 maxEvents。幂等：同一批次
// 应用两次与应用一次结果相同。
func ApplyIncomingSyncBatch(existing []models.Event, batch models.SyncBatch, maxEvents int) []models.Event {
	if maxEvents < 1 {
		maxEvents = 1
	}

	base := existing
	if batch.Mode == models.SyncModeReplace {
		base = make([]models.Event, 0, len(existing))
		for _, event := range existing {
			if IsPinnedEventID(event.ID) {
				base = append(base, event)
			}
		}
	}

	next := mergeEvents(base, batch.Upsert)

	if len(batch.RemoveIDs) > 0 {
		removeSet := make(map[string]bool, len(batch.RemoveIDs))
		for _, id := range batch.RemoveIDs {
			removeSet[id] = true
		}
		kept := next[:0]
		for _, event := range next {
			if !removeSet[event.ID] {
				kept = append(kept, event)
			}
		}
		next = kept
	}

	if len(next) > maxEvents {
		next = next[:maxEvents]
	}
	return next
}
