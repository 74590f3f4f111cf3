package policy

// Editor transitions. Every function here is pure: it returns a new value and
// never mutates its input, so callers can replace their spec atomically and
// structural change detection keeps working.

// SetTriggerType switches a trigger to a new type. Type-specific fields of the
// previous variant are dropped and the new variant starts from its defaults;
// switching to the trigger's current (canonical) type is a no-op.
func SetTriggerType(t Trigger, newType string) Trigger {
	canonical := CanonicalTriggerType(newType)
	if CanonicalTriggerType(t.Type) == canonical {
		t.Type = canonical
		return t
	}
	return DefaultTrigger(canonical)
}

// SetTriggerStable sets or clears the trigger's stable-duration requirement.
// An empty duration removes the key entirely rather than leaving an empty
// string, since presence/absence gates duration evaluation downstream.
func SetTriggerStable(t Trigger, duration string) Trigger {
	switch CanonicalTriggerType(t.Type) {
	case TriggerStatusTransition:
		t.StableFor = duration
	case TriggerMetricThreshold:
		t.For = duration
	}
	return t
}

// AddCondition appends the default condition to a condition list.
func AddCondition(list []Condition) []Condition {
	out := make([]Condition, 0, len(list)+1)
	out = append(out, list...)
	return append(out, DefaultCondition())
}

// RemoveCondition filters the condition at index i out of the list. An
// out-of-range index returns the list unchanged. Conditions have no persistent
// ids; index is identity for the duration of the edit session.
func RemoveCondition(list []Condition, i int) []Condition {
	if i < 0 || i >= len(list) {
		return list
	}
	out := make([]Condition, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

// SetConditionScope changes a condition's scope and cascades: field resets to
// the first field of the new scope, op and value to the defaults for that
// field's type. Setting the current scope again is a no-op.
func SetConditionScope(c Condition, scope string) Condition {
	if c.Scope == scope {
		return c
	}
	fields := FieldsFor(scope)
	if len(fields) == 0 {
		return c
	}
	def := fields[0]
	return Condition{
		Scope: scope,
		Field: def.Name,
		Op:    OpsFor(def.Type)[0],
		Value: ZeroValue(def),
	}
}

// SetConditionField changes a condition's field within its scope, resetting
// op and value to the new field's type defaults. Unknown fields are ignored.
func SetConditionField(c Condition, field string) Condition {
	def, ok := FieldDefFor(c.Scope, field)
	if !ok {
		return c
	}
	return Condition{
		Scope: c.Scope,
		Field: def.Name,
		Op:    OpsFor(def.Type)[0],
		Value: ZeroValue(def),
	}
}

// DefaultAction returns the action appended by the editor's Add button.
func DefaultAction() Action {
	return Action{
		Selector:    Selector{Mode: SelectorList},
		Concurrency: 1,
		BackoffMS:   500,
		TimeoutS:    30,
	}
}

// AddAction appends the default action.
func AddAction(list []Action) []Action {
	out := make([]Action, 0, len(list)+1)
	out = append(out, list...)
	return append(out, DefaultAction())
}

// RemoveAction filters the action at index i out of the list.
func RemoveAction(list []Action, i int) []Action {
	if i < 0 || i >= len(list) {
		return list
	}
	out := make([]Action, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

// MoveAction performs an index-preserving move: remove at from, insert at to.
// It is the single reordering mechanism (pointer drag and up/down controls
// both call it). Out-of-range indices return the list unchanged. The result
// is always a pure permutation of the input - nothing mutated or duplicated.
func MoveAction(list []Action, from, to int) []Action {
	if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
		return list
	}
	out := make([]Action, 0, len(list))
	out = append(out, list...)
	moved := out[from]
	out = append(out[:from], out[from+1:]...)
	rest := make([]Action, 0, len(list))
	rest = append(rest, out[:to]...)
	rest = append(rest, moved)
	return append(rest, out[to:]...)
}

// SetActionCapability changes an action's capability. The verb list is
// derived from the capability, so the stale verb (and its params) must not
// persist across the switch.
func SetActionCapability(a Action, capability string) Action {
	if a.Capability == capability {
		return a
	}
	a.Capability = capability
	a.Verb = ""
	a.Params = nil
	return a
}

// SyntheticSingleAction builds the one-action policy used by per-action dry
// runs. It copies from the source spec without touching it - dry run is a
// read-only preview operation.
func SyntheticSingleAction(spec PolicySpec, i int) (PolicySpec, bool) {
	if i < 0 || i >= len(spec.Actions) {
		return PolicySpec{}, false
	}
	single := spec
	single.Enabled = false
	single.Actions = []Action{spec.Actions[i]}
	return single, true
}
