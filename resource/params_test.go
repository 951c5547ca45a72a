package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTypedParams(t *testing.T) {
	p, err := NewShowTextWithFace(0, "hi", "Actor2", 3).ShowText()
	require.NoError(t, err)
	assert.Equal(t, "hi", p.Text)
	assert.Equal(t, "Actor2", p.FaceName)
	assert.Equal(t, 3, p.FaceIndex)
	assert.Equal(t, 2, p.Position)

	ch, err := NewShowChoices(0, []string{"a", "b"}, 1).ShowChoices()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ch.Choices)
	assert.Equal(t, 1, ch.DefaultChoice)

	cv, err := NewControlVariableRange(0, 2, 4, "mul", 3).ControlVariables()
	require.NoError(t, err)
	assert.Equal(t, 2, cv.VariableID)
	assert.Equal(t, 4, cv.EndID)
	assert.Equal(t, "mul", cv.Operation)
	assert.Equal(t, 3, cv.OperandValue)

	mr, err := NewSetMoveRoute(0, 3, nil, true).MoveRoute()
	require.NoError(t, err)
	assert.Equal(t, 3, mr.Target)
	assert.True(t, mr.Wait)
	assert.Empty(t, mr.Route)
}

func TestDecodeWeakTyping(t *testing.T) {
	cmd := NewCommand(KindWait, 0, map[string]interface{}{"duration": "12", "extra": 1})
	w, err := cmd.Wait()
	require.NoError(t, err)
	assert.Equal(t, 12, w.Duration)
	assert.Equal(t, 1, w.Extra["extra"])

	f := NewCommand(KindWait, 0, map[string]interface{}{"duration": 4.0})
	w, err = f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 4, w.Duration)
}

func TestDecodeWrongShape(t *testing.T) {
	cmd := NewCommand(KindShowText, 0, map[string]interface{}{"text": map[string]interface{}{"a": 1}})
	_, err := cmd.ShowText()
	assert.Error(t, err)
}

func TestParamAccessors(t *testing.T) {
	var nilCmd *EventCommand
	assert.Nil(t, nilCmd.Param("x"))

	c := NewLabel(0, "top")
	assert.Equal(t, "top", c.ParamString("name"))
	assert.Equal(t, 0, c.ParamInt("missing"))
	assert.Equal(t, 30, NewWait(0, 30).ParamInt("duration"))
}

func TestNewCommandCopiesParams(t *testing.T) {
	params := map[string]interface{}{"text": "a"}
	c := NewCommand(KindComment, 0, params)
	params["text"] = "b"
	assert.Equal(t, "a", c.ParamString("text"))
}

func TestOpensBlock(t *testing.T) {
	assert.True(t, KindLoop.OpensBlock())
	assert.True(t, KindConditionalBranch.OpensBlock())
	assert.False(t, KindWait.OpensBlock())
	assert.True(t, KindWaitForMovement.Known())
}
