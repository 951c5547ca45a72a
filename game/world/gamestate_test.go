package world

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/eventvm/model"
	"github.com/kasuganosora/eventvm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryState(t *testing.T) {
	gs := NewGameState(nil, 0, nil)
	defer gs.Stop()

	assert.False(t, gs.GetSwitch(1))
	assert.Equal(t, 0, gs.GetVariable(1))

	gs.SetSwitch(1, true)
	gs.SetVariable(2, 42)
	gs.SetSelfSwitch(1, 5, "A", true)

	assert.True(t, gs.GetSwitch(1))
	assert.Equal(t, 42, gs.GetVariable(2))
	assert.True(t, gs.GetSelfSwitch(1, 5, "A"))
	assert.False(t, gs.GetSelfSwitch(2, 5, "A"), "self-switches are per map")
	assert.Equal(t, 0, gs.Pending(), "nothing queued without a database")
	assert.NoError(t, gs.Flush(context.Background()))
}

func TestFlushAndReload(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	gs := NewGameState(db, time.Hour, testutil.NopLogger())
	gs.SetSwitch(3, true)
	gs.SetSwitch(3, false) // collapses into one row
	gs.SetVariable(7, 11)
	gs.SetSelfSwitch(2, 9, "C", true)
	assert.Equal(t, 3, gs.Pending())

	require.NoError(t, gs.Flush(ctx))
	assert.Equal(t, 0, gs.Pending())

	var sw model.GameSwitch
	require.NoError(t, db.First(&sw, "switch_id = ?", 3).Error)
	assert.False(t, sw.Value)

	gs.SetVariable(7, 12)
	require.NoError(t, gs.Flush(ctx), "upsert over an existing row")
	gs.Stop()

	reloaded := NewGameState(db, time.Hour, nil)
	defer reloaded.Stop()
	require.NoError(t, reloaded.LoadFromDB(ctx))
	assert.False(t, reloaded.GetSwitch(3))
	assert.Equal(t, 12, reloaded.GetVariable(7))
	assert.True(t, reloaded.GetSelfSwitch(2, 9, "C"))
}

func TestStopFlushesPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	gs := NewGameState(db, time.Hour, nil)
	gs.SetVariable(1, 5)
	gs.Stop()
	gs.Stop()

	var v model.GameVariable
	require.NoError(t, db.First(&v, "variable_id = ?", 1).Error)
	assert.Equal(t, 5, v.Value)
}

func TestMapView(t *testing.T) {
	gs := NewGameState(nil, 0, nil)
	view := gs.ForMap(4)
	assert.Equal(t, 4, view.MapID())

	view.SetSwitch(1, true)
	view.SetVariable(1, 3)
	view.SetSelfSwitch(10, "B", true)

	assert.True(t, gs.GetSwitch(1))
	assert.Equal(t, 3, gs.GetVariable(1))
	assert.True(t, gs.GetSelfSwitch(4, 10, "B"))
	assert.True(t, view.GetSelfSwitch(10, "B"))
	assert.False(t, gs.ForMap(5).GetSelfSwitch(10, "B"))
}

func TestSnapshotsOrdered(t *testing.T) {
	gs := NewGameState(nil, 0, nil)
	gs.SetSwitch(9, true)
	gs.SetSwitch(2, false)
	gs.SetVariable(5, 1)
	gs.SetVariable(1, 2)

	assert.Equal(t, []Entry{{ID: 2, Value: false}, {ID: 9, Value: true}}, gs.Switches())
	assert.Equal(t, []Entry{{ID: 1, Value: 2}, {ID: 5, Value: 1}}, gs.Variables())
}
