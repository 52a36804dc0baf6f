package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storewatch-ingest/internal/models"
)

func testEvent(status models.IncidentStatus) *models.Event {
	return &models.Event{
		ID:             "evt-1",
		ZoneID:         "entrance",
		IncidentStatus: status,
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatusNew, models.StatusAck))
	assert.True(t, CanTransition(models.StatusNew, models.StatusResolved))
	assert.True(t, CanTransition(models.StatusAck, models.StatusResolved))

	// 不允许后退和原地迁移
	assert.False(t, CanTransition(models.StatusAck, models.StatusNew))
	assert.False(t, CanTransition(models.StatusResolved, models.StatusAck))
	assert.False(t, CanTransition(models.StatusNew, models.StatusNew))
	assert.False(t, CanTransition("weird", models.StatusAck))
}

func TestApplyStatusChange(t *testing.T) {
	event := testEvent(models.StatusNew)

	entry, ok := ApplyStatusChange(event, models.StatusAck, models.ActionAck, "op-1", "checking")
	require.True(t, ok)
	assert.Equal(t, models.StatusAck, event.IncidentStatus)
	assert.Equal(t, models.StatusNew, entry.FromStatus)
	assert.Equal(t, models.StatusAck, entry.ToStatus)
	assert.Equal(t, "evt-1", entry.EventID)
	assert.Equal(t, "entrance", entry.ZoneID)
	assert.NotEmpty(t, entry.ID)

	// 后退被拒绝，状态不变
	_, ok = ApplyStatusChange(event, models.StatusNew, models.ActionAck, "op-1", "")
	assert.False(t, ok)
	assert.Equal(t, models.StatusAck, event.IncidentStatus)
}

func TestDispatch(t *testing.T) {
	// new 事件派遣后隐式推进到 ack
	event := testEvent(models.StatusNew)
	entry, ok := Dispatch(event, "op-1", "staff sent")
	require.True(t, ok)
	assert.Equal(t, models.StatusAck, event.IncidentStatus)
	assert.Equal(t, models.ActionDispatch, entry.Action)
	assert.Equal(t, models.StatusNew, entry.FromStatus)
	assert.Equal(t, models.StatusAck, entry.ToStatus)

	// ack 事件派遣不改状态
	event = testEvent(models.StatusAck)
	entry, ok = Dispatch(event, "op-1", "staff sent")
	require.True(t, ok)
	assert.Equal(t, models.StatusAck, event.IncidentStatus)
	assert.Equal(t, models.StatusAck, entry.ToStatus)

	// 已解决的事件不再派遣
	event = testEvent(models.StatusResolved)
	_, ok = Dispatch(event, "op-1", "staff sent")
	assert.False(t, ok)
}

func TestAppendTimeline_DedupeAndCap(t *testing.T) {
	now := time.Now().UnixMilli()
	base := models.IncidentTimelineEntry{
		ID: "t-1", EventID: "evt-1", ZoneID: "entrance",
		Action: models.ActionAck, Actor: "op-1",
		At:         now,
		FromStatus: models.StatusNew, ToStatus: models.StatusAck,
	}

	timeline := AppendTimeline(nil, base)
	require.Len(t, timeline, 1)

	// 窗口内重复不追加
	dup := base
	dup.ID = "t-2"
	dup.At = now + 10_000
	timeline = AppendTimeline(timeline, dup)
	assert.Len(t, timeline, 1)

	// 超出窗口允许再次追加
	later := base
	later.ID = "t-3"
	later.At = now + 60_000
	timeline = AppendTimeline(timeline, later)
	require.Len(t, timeline, 2)
	// 最新在前
	assert.Equal(t, "t-3", timeline[0].ID)

	// 超过上限截断
	for i := 0; i < TimelineMax+20; i++ {
		entry := base
		entry.ID = ""
		entry.EventID = "evt-many"
		entry.Note = string(rune('a' + i%26))
		entry.At = now + int64(i)*40_000
		timeline = AppendTimeline(timeline, entry)
	}
	assert.Len(t, timeline, TimelineMax)
}
