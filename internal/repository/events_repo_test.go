package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storewatch-ingest/internal/models"
)

func setupEventsRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EventsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewEventsRepository(db, zap.NewNop())
	return db, mock, repo
}

func sampleEvent(id string) models.Event {
	return models.Event{
		ID:             id,
		StoreID:        "s001",
		DetectedAt:     1700000000000,
		IngestedAt:     1700000001000,
		LatencyMs:      1000,
		Type:           models.EventTypeFall,
		Severity:       3,
		Confidence:     0.92,
		ZoneID:         "entrance",
		CameraID:       "cam-01",
		Source:         models.SourceCamera,
		IncidentStatus: models.StatusNew,
		X:              0.4,
		Y:              0.6,
	}
}

func TestUpsertEvents_Success(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO events`)
	prep.ExpectExec().
		WithArgs(
			"evt-1", "s001", int64(1700000000000), int64(1700000001000), int64(1000),
			"fall", 3, 0.92, "entrance", "cam-01", "",
			"", "", "camera", "", "new",
			0.4, 0.6, nil, nil, "",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpsertEvents(context.Background(), []models.Event{sampleEvent("evt-1")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvents_EmptyIsNoOp(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	err := repo.UpsertEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEvents_RollbackOnFailure(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO events`)
	prep.ExpectExec().
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.UpsertEvents(context.Background(), []models.Event{sampleEvent("evt-1")})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveEvents_Success(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM events`).
		WithArgs("s001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.RemoveEvents(context.Background(), "s001", []string{"evt-1", "evt-2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveEvents_EmptyIsNoOp(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	err := repo.RemoveEvents(context.Background(), "s001", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentEvents_Success(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "store_id", "detected_at", "ingested_at", "latency_ms",
		"type", "severity", "confidence", "zone_id", "camera_id", "track_id",
		"object_label", "raw_status", "source", "model_version", "incident_status",
		"x", "y", "world_x_m", "world_z_m", "note",
	}).
		AddRow("evt-2", "s001", int64(1700000002000), int64(1700000002500), int64(500),
			"fight", 3, 0.84, "checkout", "cam-02", "track-7",
			"person", "violence", "camera", "vlm-1.2", "new",
			0.7, 0.3, 4.5, -2.1, "충돌 감지").
		AddRow("evt-1", "s001", int64(1700000000000), int64(1700000001000), int64(1000),
			"fall", 3, 0.92, "entrance", nil, nil,
			nil, nil, "api", nil, "ack",
			0.4, 0.6, nil, nil, nil)

	mock.ExpectQuery(`SELECT`).
		WithArgs("s001", 100).
		WillReturnRows(rows)

	events, err := repo.RecentEvents(context.Background(), "s001", 100)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "evt-2", events[0].ID)
	assert.Equal(t, models.EventTypeFight, events[0].Type)
	assert.Equal(t, "track-7", events[0].TrackID)
	require.NotNil(t, events[0].WorldXM)
	assert.InDelta(t, 4.5, *events[0].WorldXM, 1e-9)

	assert.Equal(t, "evt-1", events[1].ID)
	assert.Equal(t, models.StatusAck, events[1].IncidentStatus)
	assert.Empty(t, events[1].CameraID)
	assert.Nil(t, events[1].WorldXM)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentEvents_RequiresStoreID(t *testing.T) {
	db, _, repo := setupEventsRepo(t)
	defer db.Close()

	_, err := repo.RecentEvents(context.Background(), "", 10)
	assert.Error(t, err)
}

func TestAppendTimelineEntries_Success(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO incident_timeline`)
	prep.ExpectExec().
		WithArgs("entry-1", "s001", "evt-1", "entrance", "ack", "manager-kim",
			int64(1700000005000), "new", "ack", "확인 완료").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entries := []models.IncidentTimelineEntry{
		{
			ID:         "entry-1",
			EventID:    "evt-1",
			ZoneID:     "entrance",
			Action:     models.ActionAck,
			Actor:      "manager-kim",
			At:         1700000005000,
			FromStatus: models.StatusNew,
			ToStatus:   models.StatusAck,
			Note:       "확인 완료",
		},
	}

	err := repo.AppendTimelineEntries(context.Background(), "s001", entries)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentTimeline_Success(t *testing.T) {
	db, mock, repo := setupEventsRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "event_id", "zone_id", "action", "actor", "at", "from_status", "to_status", "note",
	}).
		AddRow("entry-2", "evt-1", "entrance", "resolved", "manager-kim",
			int64(1700000009000), "ack", "resolved", nil).
		AddRow("entry-1", "evt-1", "entrance", "ack", "manager-kim",
			int64(1700000005000), "new", "ack", "확인 완료")

	mock.ExpectQuery(`SELECT`).
		WithArgs("s001", 50).
		WillReturnRows(rows)

	entries, err := repo.RecentTimeline(context.Background(), "s001", 50)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionResolved, entries[0].Action)
	assert.Equal(t, models.StatusResolved, entries[0].ToStatus)
	assert.Empty(t, entries[0].Note)
	assert.Equal(t, "확인 완료", entries[1].Note)

	assert.NoError(t, mock.ExpectationsWereMet())
}
