package audit

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/eventvm/model"
	"github.com/kasuganosora/eventvm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, testutil.NopLogger())

	svc.Log(Entry{
		TraceID:      "trace-1",
		EventID:      4,
		EventName:    "Guard",
		PageIndex:    1,
		Action:       ActionError,
		CommandIndex: 3,
		Error:        "script \"x\": not found",
		Detail:       map[string]int{"loop_depth": 1},
		MapID:        2,
	})
	svc.Stop(context.Background())

	var logs []model.EventRunLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	l := logs[0]
	assert.Equal(t, "trace-1", l.TraceID)
	assert.Equal(t, 4, l.EventID)
	assert.Equal(t, "Guard", l.EventName)
	assert.Equal(t, ActionError, l.Action)
	assert.Equal(t, 3, l.CommandIndex)
	assert.Equal(t, 2, l.MapID)
	assert.JSONEq(t, `{"loop_depth":1}`, string(l.Detail))
}

func TestLog_BatchFlushWithoutStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil)
	defer svc.Stop(context.Background())

	for i := 0; i < batchSize; i++ {
		svc.Log(Entry{EventID: i + 1, Action: ActionStart})
	}
	require.Eventually(t, func() bool {
		var n int64
		db.Model(&model.EventRunLog{}).Count(&n)
		return n == batchSize
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRecentFilters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil)
	svc.Log(Entry{EventID: 1, Action: ActionStart})
	svc.Log(Entry{EventID: 1, Action: ActionEnd})
	svc.Log(Entry{EventID: 2, Action: ActionStart})
	svc.Stop(context.Background())

	ctx := context.Background()
	all, err := svc.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].EventID, "newest first")

	one, err := svc.Recent(ctx, Query{EventID: 1})
	require.NoError(t, err)
	assert.Len(t, one, 2)

	starts, err := svc.Recent(ctx, Query{Action: ActionStart, Limit: 1})
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, 2, starts[0].EventID)
}

func TestLogAfterStopIsDropped(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil)
	svc.Stop(context.Background())
	svc.Stop(context.Background())
	svc.Log(Entry{EventID: 1, Action: ActionStart})

	var n int64
	db.Model(&model.EventRunLog{}).Count(&n)
	assert.Equal(t, int64(0), n)
}
