package demo

import (
	"fmt"
	"strconv"

	"storewatch-ingest/internal/adapter"
	"storewatch-ingest/internal/aggregator"
	"storewatch-ingest/internal/geometry"
	"storewatch-ingest/internal/models"
)

// photoSeedCameraID 标定照片对应的边缘相机
const photoSeedCameraID = "camera-edge-01"

// photoSeedTrackIDs 参与种子生成的参照点
var photoSeedTrackIDs = map[int]bool{0: true, 1: true, 2: true, 3: true, 5: true, 6: true}

// BuildPhotoSeedEvents 把现场照片标定参照点转成固定的 photo-log 事件
//
// 事件 ID 带 photo-log- 前缀，replace 重同步时由同步引擎保留。
// 记录先走常规适配管线，再覆写坐标与标定元数据。
func BuildPhotoSeedEvents(a *adapter.Adapter, transform *geometry.Transform, doc *models.ZoneMap, now int64) []models.Event {
	var events []models.Event

	for idx, point := range geometry.DefaultReferencePoints {
		if !photoSeedTrackIDs[point.TrackID] {
			continue
		}

		norm := transform.WorldToMapNorm(
			point.WorldX-doc.WorldOffsetX(),
			point.WorldZ-doc.WorldOffsetZ(),
		)

		record := map[string]interface{}{
			"eventId":    aggregator.PhotoSeedEventPrefix + strconv.Itoa(point.TrackID),
			"timestamp":  now - int64(idx)*120,
			"camera_id":  photoSeedCameraID,
			"track_id":   strconv.Itoa(point.TrackID),
			"label":      "person",
			"status":     point.Status,
			"eventType":  "crowd",
			"severity":   2,
			"confidence": 0.97,
			"x_norm":     norm.X,
			"y_norm":     norm.Y,
			"world": map[string]interface{}{
				"x": point.WorldX,
				"z": point.WorldZ,
			},
			"note": fmt.Sprintf("%s pred(%g,%g) -> w(%.2f,%.2f)",
				point.Note, point.PredX, point.PredY, point.WorldX, point.WorldZ),
		}

		normalized := a.AdaptRawEvent(record)
		if normalized == nil {
			continue
		}

		event := *normalized
		event.ID = aggregator.PhotoSeedEventPrefix + strconv.Itoa(point.TrackID)
		event.Source = models.SourceCamera
		event.ObjectLabel = "photo-ref"
		event.RawStatus = "photo_ref"
		event.X = norm.X
		event.Y = norm.Y
		event.IncidentStatus = models.StatusNew
		event.Severity = 2
		worldX, worldZ := point.WorldX, point.WorldZ
		event.WorldXM = &worldX
		event.WorldZM = &worldZ
		if event.Note != "" {
			event.Note = fmt.Sprintf("%s | model-norm(%.3f,%.3f)", event.Note, norm.X, norm.Y)
		} else {
			event.Note = fmt.Sprintf("model-norm(%.3f,%.3f)", norm.X, norm.Y)
		}

		events = append(events, event)
	}

	return events
}
