package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triggerKeys(t *testing.T, trig Trigger) []string {
	t.Helper()
	raw, err := json.Marshal(trig)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestSetTriggerType_DropsForeignFields(t *testing.T) {
	trig := DefaultTrigger(TriggerMetricThreshold)
	require.NotEmpty(t, trig.Metric)

	next := SetTriggerType(trig, TriggerStatusTransition)

	assert.Equal(t, TriggerStatusTransition, next.Type)
	assert.Empty(t, next.Metric)
	assert.Empty(t, next.Op)
	assert.Nil(t, next.Value)
	// Serialized object must contain only the keys of the new variant.
	assert.Equal(t, []string{"from", "to", "type"}, triggerKeys(t, next))
}

func TestSetTriggerType_RoundTripDoesNotResurrect(t *testing.T) {
	trig := DefaultTrigger(TriggerStatusTransition)
	trig = SetTriggerStable(trig, "60s")

	away := SetTriggerType(trig, TriggerMetricThreshold)
	back := SetTriggerType(away, TriggerStatusTransition)

	// Switching away and back yields defaults, not the stale stable_for.
	assert.Empty(t, back.StableFor)
	assert.Equal(t, []string{"from", "to", "type"}, triggerKeys(t, back))
}

func TestSetTriggerType_AliasCanonicalized(t *testing.T) {
	trig := SetTriggerType(DefaultTrigger(TriggerSchedule), "ups.state")
	assert.Equal(t, TriggerStatusTransition, trig.Type)

	// Alias of the current type is a no-op, not a reset.
	cur := DefaultTrigger(TriggerMetricThreshold)
	cur.Metric = "input.voltage"
	same := SetTriggerType(cur, "duration")
	assert.Equal(t, "input.voltage", same.Metric)
}

func TestSetTriggerStable_PresenceSemantics(t *testing.T) {
	trig := DefaultTrigger(TriggerStatusTransition)

	on := SetTriggerStable(trig, "60s")
	assert.Contains(t, triggerKeys(t, on), "stable_for")

	off := SetTriggerStable(on, "")
	assert.NotContains(t, triggerKeys(t, off), "stable_for")
}

func TestSetConditionScope_Cascades(t *testing.T) {
	cond := DefaultCondition()
	require.Equal(t, "ups", cond.Scope)

	next := SetConditionScope(cond, "host")

	assert.Equal(t, "host", next.Scope)
	assert.Equal(t, "reachable", next.Field, "field must reset to the first field of the new scope")
	def, ok := FieldDefFor(next.Scope, next.Field)
	require.True(t, ok)
	assert.True(t, ValidOp(def.Type, next.Op), "op %q invalid for %s field", next.Op, def.Type)
	assert.Equal(t, false, next.Value)
}

func TestSetConditionScope_NeverYieldsInvalidOp(t *testing.T) {
	for _, from := range ConditionScopes() {
		for _, to := range ConditionScopes() {
			cond := SetConditionScope(Condition{Scope: from, Field: FieldsFor(from)[0].Name, Op: OpsFor(FieldsFor(from)[0].Type)[0], Value: ZeroValue(FieldsFor(from)[0])}, to)
			def, ok := FieldDefFor(cond.Scope, cond.Field)
			require.True(t, ok, "scope %s field %s", cond.Scope, cond.Field)
			assert.True(t, ValidOp(def.Type, cond.Op), "%s -> %s produced op %q for %s field", from, to, cond.Op, def.Type)
		}
	}
}

func TestSetConditionField_ResetsOpAndValue(t *testing.T) {
	cond := DefaultCondition() // ups.state, enum
	next := SetConditionField(cond, "runtime_minutes")

	assert.Equal(t, "runtime_minutes", next.Field)
	assert.Equal(t, ">", next.Op)
	assert.Equal(t, float64(0), next.Value)

	// Unknown field leaves the condition untouched.
	assert.Equal(t, next, SetConditionField(next, "no_such_field"))
}

func TestAddRemoveCondition(t *testing.T) {
	list := AddCondition(nil)
	require.Len(t, list, 1)
	assert.Equal(t, DefaultCondition(), list[0])

	list = AddCondition(list)
	require.Len(t, list, 2)

	removed := RemoveCondition(list, 0)
	assert.Len(t, removed, 1)
	assert.Len(t, list, 2, "remove must not mutate the input list")
	assert.Equal(t, list, RemoveCondition(list, 5))
}

func actionsNamed(names ...string) []Action {
	out := make([]Action, len(names))
	for i, n := range names {
		out[i] = DefaultAction()
		out[i].Capability = n
	}
	return out
}

func capNames(list []Action) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Capability
	}
	return out
}

func TestMoveAction_SpliceSemantics(t *testing.T) {
	list := actionsNamed("a0", "a1", "a2", "a3")

	moved := MoveAction(list, 2, 0)

	assert.Equal(t, []string{"a2", "a0", "a1", "a3"}, capNames(moved))
	assert.Equal(t, []string{"a0", "a1", "a2", "a3"}, capNames(list), "move must not mutate the input")

	assert.Equal(t, list, MoveAction(list, 4, 0))
	assert.Equal(t, list, MoveAction(list, 0, -1))
}

func TestMoveAction_IsPurePermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("move preserves the multiset of actions", prop.ForAll(
		func(size, from, to int) bool {
			if size == 0 {
				return true
			}
			from, to = from%size, to%size
			names := make([]string, size)
			for i := range names {
				names[i] = fmt.Sprintf("cap-%d", i)
			}
			before := actionsNamed(names...)
			after := MoveAction(before, from, to)

			if len(after) != size {
				return false
			}
			seen := make(map[string]int)
			for _, a := range after {
				seen[a.Capability]++
			}
			for _, n := range names {
				if seen[n] != 1 {
					return false
				}
			}
			return after[to].Capability == names[from]
		},
		gen.IntRange(0, 16),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestSetActionCapability_ClearsVerb(t *testing.T) {
	a := DefaultAction()
	a.Capability = "power.control"
	a.Verb = "shutdown"
	a.Params = map[string]interface{}{"grace_s": 30}

	next := SetActionCapability(a, "vm.lifecycle")

	assert.Equal(t, "vm.lifecycle", next.Capability)
	assert.Empty(t, next.Verb)
	assert.Nil(t, next.Params)

	// Re-selecting the current capability keeps the verb.
	same := SetActionCapability(next, "vm.lifecycle")
	assert.Equal(t, next, same)
}

func TestSyntheticSingleAction_DoesNotTouchSpec(t *testing.T) {
	spec := DefaultPolicy()
	spec.Enabled = true
	spec.Actions = actionsNamed("a0", "a1", "a2")

	single, ok := SyntheticSingleAction(spec, 1)
	require.True(t, ok)
	assert.False(t, single.Enabled)
	require.Len(t, single.Actions, 1)
	assert.Equal(t, "a1", single.Actions[0].Capability)

	assert.True(t, spec.Enabled)
	assert.Len(t, spec.Actions, 3)

	_, ok = SyntheticSingleAction(spec, 3)
	assert.False(t, ok)
}
