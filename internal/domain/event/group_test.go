package event

import (
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(id string, p Parameter, op Operator, value string, done bool) *Condition {
	return &Condition{ID: id, Parameter: p, Operator: op, Value: value, IsCompleted: done}
}

func TestEvaluateGroup(t *testing.T) {
	assert.False(t, EvaluateGroup(nil))
	assert.False(t, EvaluateGroup([]*Condition{
		cond("a", ParameterBank, OperatorGreaterEquals, "1", true),
		cond("b", ParameterPeople, OperatorGreaterEquals, "1", false),
	}))
	assert.True(t, EvaluateGroup([]*Condition{
		cond("a", ParameterBank, OperatorGreaterEquals, "1", true),
	}))
}

func TestResolve_AndGroup(t *testing.T) {
	g := &EndConditionGroup{ID: "g1", Type: GroupAll, Conditions: []*Condition{
		cond("bank", ParameterBank, OperatorGreaterEquals, "1000", true),
		cond("people", ParameterPeople, OperatorGreaterEquals, "3", false),
	}}

	res, err := g.Resolve(baseTime)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.False(t, g.IsCompleted)

	g.Conditions[1].IsCompleted = true
	res, err = g.Resolve(baseTime)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, g.IsCompleted)

	res, err = g.Resolve(baseTime)
	require.NoError(t, err)
	assert.False(t, res.Changed(), "resolved groups are left untouched")
}

func TestResolve_OrGroup(t *testing.T) {
	g := &EndConditionGroup{ID: "g1", Type: GroupAny, Conditions: []*Condition{
		cond("bank", ParameterBank, OperatorGreaterEquals, "1000", false),
		cond("people", ParameterPeople, OperatorGreaterEquals, "3", true),
	}}
	res, err := g.Resolve(baseTime)
	require.NoError(t, err)
	assert.True(t, res.Completed)
}

func TestResolve_DeadlineGate(t *testing.T) {
	deadline := baseTime.Add(time.Hour).Format(time.RFC3339)
	newGroup := func(goalDone bool) *EndConditionGroup {
		return &EndConditionGroup{ID: "g", Type: GroupAll, Conditions: []*Condition{
			cond("bank", ParameterBank, OperatorGreaterEquals, "500", goalDone),
			cond("deadline", ParameterTime, OperatorLess, deadline, false),
		}}
	}

	t.Run("goal met before deadline completes", func(t *testing.T) {
		g := newGroup(true)
		res, err := g.Resolve(baseTime)
		require.NoError(t, err)
		assert.True(t, res.Completed)
		assert.Equal(t, []string{"deadline"}, res.GatesCompleted)
		assert.True(t, g.Conditions[1].IsCompleted)
	})

	t.Run("goal pending before deadline waits", func(t *testing.T) {
		g := newGroup(false)
		res, err := g.Resolve(baseTime)
		require.NoError(t, err)
		assert.False(t, res.Changed())
	})

	t.Run("deadline passes first fails", func(t *testing.T) {
		g := newGroup(false)
		res, err := g.Resolve(baseTime.Add(2 * time.Hour))
		require.NoError(t, err)
		assert.True(t, res.Failed)
		assert.True(t, g.IsFailed)
		assert.False(t, g.IsCompleted)
	})

	t.Run("only deadlines never completes", func(t *testing.T) {
		g := &EndConditionGroup{ID: "g", Conditions: []*Condition{
			cond("deadline", ParameterTime, OperatorLessEquals, deadline, false),
		}}
		res, err := g.Resolve(baseTime)
		require.NoError(t, err)
		assert.False(t, res.Completed)
	})
}

func TestResolve_MalformedGate(t *testing.T) {
	g := &EndConditionGroup{ID: "g", Conditions: []*Condition{
		cond("bank", ParameterBank, OperatorGreaterEquals, "1", true),
		cond("deadline", ParameterTime, OperatorLess, "soon", false),
	}}
	_, err := g.Resolve(baseTime)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, g.IsCompleted)
}

func TestCompletionPolicy_Decide(t *testing.T) {
	done := &EndConditionGroup{IsCompleted: true}
	failed := &EndConditionGroup{IsFailed: true}
	open := &EndConditionGroup{}

	assert.Equal(t, OutcomePending, PolicyAny.Decide(nil))
	assert.Equal(t, OutcomePending, PolicyAll.Decide(nil))

	assert.Equal(t, OutcomeCompleted, PolicyAny.Decide([]*EndConditionGroup{open, done}))
	assert.Equal(t, OutcomePending, PolicyAny.Decide([]*EndConditionGroup{open, failed}))
	assert.Equal(t, OutcomeFailed, PolicyAny.Decide([]*EndConditionGroup{failed, failed}))

	assert.Equal(t, OutcomePending, PolicyAll.Decide([]*EndConditionGroup{open, done}))
	assert.Equal(t, OutcomeCompleted, PolicyAll.Decide([]*EndConditionGroup{done, done}))
	assert.Equal(t, OutcomeFailed, PolicyAll.Decide([]*EndConditionGroup{done, failed}))
}

func TestParseEnums(t *testing.T) {
	gt, err := ParseGroupType("")
	require.NoError(t, err)
	assert.Equal(t, GroupAll, gt)
	gt, err = ParseGroupType("or")
	require.NoError(t, err)
	assert.Equal(t, GroupAny, gt)
	_, err = ParseGroupType("XOR")
	assert.True(t, shared.IsConfiguration(err))

	p, err := ParseCompletionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyAny, p)
	_, err = ParseCompletionPolicy("MOST")
	assert.Error(t, err)
}
