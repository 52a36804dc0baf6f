package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"storewatch-ingest/internal/models"
)

// EventsRepository 标准化事件与处理时间线仓库
type EventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventsRepository 创建事件仓库
func NewEventsRepository(db *sql.DB, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertEvents 批量写入标准化事件，同 ID 后写覆盖
func (r *EventsRepository) UpsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO events (
			id, store_id, detected_at, ingested_at, latency_ms,
			type, severity, confidence, zone_id, camera_id, track_id,
			object_label, raw_status, source, model_version, incident_status,
			x, y, world_x_m, world_z_m, note, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			store_id = EXCLUDED.store_id,
			detected_at = EXCLUDED.detected_at,
			ingested_at = EXCLUDED.ingested_at,
			latency_ms = EXCLUDED.latency_ms,
			type = EXCLUDED.type,
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			zone_id = EXCLUDED.zone_id,
			camera_id = EXCLUDED.camera_id,
			track_id = EXCLUDED.track_id,
			object_label = EXCLUDED.object_label,
			raw_status = EXCLUDED.raw_status,
			source = EXCLUDED.source,
			model_version = EXCLUDED.model_version,
			incident_status = EXCLUDED.incident_status,
			x = EXCLUDED.x,
			y = EXCLUDED.y,
			world_x_m = EXCLUDED.world_x_m,
			world_z_m = EXCLUDED.world_z_m,
			note = EXCLUDED.note,
			updated_at = NOW()
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		_, err := stmt.ExecContext(ctx,
			event.ID,
			event.StoreID,
			event.DetectedAt,
			event.IngestedAt,
			event.LatencyMs,
			string(event.Type),
			event.Severity,
			event.Confidence,
			event.ZoneID,
			event.CameraID,
			event.TrackID,
			event.ObjectLabel,
			event.RawStatus,
			string(event.Source),
			event.ModelVersion,
			string(event.IncidentStatus),
			event.X,
			event.Y,
			event.WorldXM,
			event.WorldZM,
			event.Note,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert transaction: %w", err)
	}

	r.logger.Debug("Upserted events",
		zap.Int("count", len(events)),
	)

	return nil
}

// RemoveEvents 按 ID 列表删除事件
func (r *EventsRepository) RemoveEvents(ctx context.Context, storeID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `DELETE FROM events WHERE store_id = $1 AND id = ANY($2)`

	result, err := r.db.ExecContext(ctx, query, storeID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to remove events: %w", err)
	}

	removed, _ := result.RowsAffected()
	r.logger.Debug("Removed events",
		zap.String("store_id", storeID),
		zap.Int("requested", len(ids)),
		zap.Int64("removed", removed),
	)

	return nil
}

// RecentEvents 查询门店最近的标准化事件
// 排序与同步引擎一致：检测时刻降序，接收时刻降序，ID 升序
func (r *EventsRepository) RecentEvents(ctx context.Context, storeID string, limit int) ([]models.Event, error) {
	if storeID == "" {
		return nil, fmt.Errorf("store_id is required")
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT
			id, store_id, detected_at, ingested_at, latency_ms,
			type, severity, confidence, zone_id, camera_id, track_id,
			object_label, raw_status, source, model_version, incident_status,
			x, y, world_x_m, world_z_m, note
		FROM events
		WHERE store_id = $1
		ORDER BY detected_at DESC, ingested_at DESC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		var cameraID, trackID, objectLabel, rawStatus, modelVersion, note sql.NullString
		var worldX, worldZ sql.NullFloat64

		err := rows.Scan(
			&event.ID,
			&event.StoreID,
			&event.DetectedAt,
			&event.IngestedAt,
			&event.LatencyMs,
			&event.Type,
			&event.Severity,
			&event.Confidence,
			&event.ZoneID,
			&cameraID,
			&trackID,
			&objectLabel,
			&rawStatus,
			&event.Source,
			&modelVersion,
			&event.IncidentStatus,
			&event.X,
			&event.Y,
			&worldX,
			&worldZ,
			&note,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		event.CameraID = cameraID.String
		event.TrackID = trackID.String
		event.ObjectLabel = objectLabel.String
		event.RawStatus = rawStatus.String
		event.ModelVersion = modelVersion.String
		event.Note = note.String
		if worldX.Valid {
			event.WorldXM = &worldX.Float64
		}
		if worldZ.Valid {
			event.WorldZM = &worldZ.Float64
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}

	return events, nil
}

// AppendTimelineEntries 追加处理时间线条目，重复 ID 忽略
func (r *EventsRepository) AppendTimelineEntries(ctx context.Context, storeID string, entries []models.IncidentTimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO incident_timeline (
			id, store_id, event_id, zone_id, action, actor, at,
			from_status, to_status, note
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare timeline statement: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		_, err := stmt.ExecContext(ctx,
			entry.ID,
			storeID,
			entry.EventID,
			entry.ZoneID,
			string(entry.Action),
			entry.Actor,
			entry.At,
			string(entry.FromStatus),
			string(entry.ToStatus),
			entry.Note,
		)
		if err != nil {
			return fmt.Errorf("failed to insert timeline entry %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit timeline transaction: %w", err)
	}

	return nil
}

// RecentTimeline 查询门店最近的时间线条目，按发生时刻降序
func (r *EventsRepository) RecentTimeline(ctx context.Context, storeID string, limit int) ([]models.IncidentTimelineEntry, error) {
	if storeID == "" {
		return nil, fmt.Errorf("store_id is required")
	}
	if limit <= 0 {
		limit = 240
	}

	query := `
		SELECT id, event_id, zone_id, action, actor, at, from_status, to_status, note
		FROM incident_timeline
		WHERE store_id = $1
		ORDER BY at DESC, id ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var entries []models.IncidentTimelineEntry
	for rows.Next() {
		var entry models.IncidentTimelineEntry
		var fromStatus, toStatus, note sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.ZoneID,
			&entry.Action,
			&entry.Actor,
			&entry.At,
			&fromStatus,
			&toStatus,
			&note,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}

		entry.FromStatus = models.IncidentStatus(fromStatus.String)
		entry.ToStatus = models.IncidentStatus(toStatus.String)
		entry.Note = note.String

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timeline rows: %w", err)
	}

	return entries, nil
}
