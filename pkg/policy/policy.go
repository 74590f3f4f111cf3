package policy

// SchemaVersion is the only policy schema generation this codebase produces.
// Older trigger_group specs are rejected at validation time, not migrated.
const SchemaVersion = 1

// PolicySpec is one automation rule: when the trigger fires and the conditions
// hold, run the ordered actions against the matching targets.
type PolicySpec struct {
	Version    int            `json:"version"`
	Name       string         `json:"name"`
	Enabled    bool           `json:"enabled"`
	Priority   int            `json:"priority"` // 0 = highest precedence
	Trigger    Trigger        `json:"trigger"`
	Conditions ConditionGroup `json:"conditions"`
	Safeties   Safeties       `json:"safeties"`
	Targets    TargetSpec     `json:"targets"`
	Actions    []Action       `json:"actions"` // order is execution order
	Notes      string         `json:"notes,omitempty"`
}

// Trigger is a tagged union keyed by Type. Only the fields belonging to the
// active variant are set; everything else stays at its zero value so it is
// omitted from JSON. Presence of StableFor/For has evaluation meaning
// downstream (duration gating vs. none), so they must never be emitted as
// empty strings.
type Trigger struct {
	Type string `json:"type"`

	// status_transition
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	StableFor string `json:"stable_for,omitempty"`

	// metric.threshold
	Metric string   `json:"metric,omitempty"`
	Op     string   `json:"op,omitempty"`
	Value  *float64 `json:"value,omitempty"`
	For    string   `json:"for,omitempty"`

	// schedule
	Repeat string   `json:"repeat,omitempty"`
	At     string   `json:"at,omitempty"`
	Days   []string `json:"days,omitempty"` // weekly only

	// timer.after
	Event  string `json:"event,omitempty"`
	Equals string `json:"equals,omitempty"`
	After  string `json:"after,omitempty"`
}

// Condition is a single boolean predicate: scope.field op value.
type Condition struct {
	Scope string      `json:"scope"`
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// ConditionGroup is a conjunction/disjunction structure: every entry in All
// must hold, and when Any is non-empty at least one entry there must hold.
type ConditionGroup struct {
	All []Condition `json:"all"`
	Any []Condition `json:"any,omitempty"`
}

// Safeties are operational guards evaluated before any action runs.
type Safeties struct {
	SuppressionWindow string   `json:"suppression_window,omitempty"` // min re-trigger interval, e.g. "300s"
	IdempotencyWindow string   `json:"idempotency_window,omitempty"`
	GlobalLock        string   `json:"global_lock,omitempty"`
	NeverTargets      []string `json:"never_targets,omitempty"`
}

// Selector modes.
const (
	SelectorList  = "list"
	SelectorRange = "range"
	SelectorQuery = "query"
)

// Selector narrows which inventory items an action or policy applies to.
// The raw Value string is always what gets sent to the backend; client-side
// range expansion is advisory only.
type Selector struct {
	Mode  string `json:"mode"`
	Value string `json:"value"`
}

// TargetSpec selects the object(s) the policy's actions apply to.
type TargetSpec struct {
	HostID   string   `json:"host_id"`
	Type     string   `json:"type"`
	Selector Selector `json:"selector"`
}

// Action is one step of the ordered action list.
type Action struct {
	Capability      string                 `json:"capability"`
	Verb            string                 `json:"verb"`
	Params          map[string]interface{} `json:"params,omitempty"`
	InstanceID      string                 `json:"instance_id,omitempty"`
	HostID          string                 `json:"host_id,omitempty"`
	Selector        Selector               `json:"selector"`
	Concurrency     int                    `json:"concurrency"`
	BackoffMS       int                    `json:"backoff_ms"`
	TimeoutS        int                    `json:"timeout_s"`
	IdempotencyHint string                 `json:"idempotency_hint,omitempty"`
}

// DefaultPolicy returns an empty policy with safe defaults: disabled,
// mid-priority, a single default trigger and no actions. It is a
// constant-shape factory - no ids or timestamps are injected, so serializing
// the result twice yields identical bytes.
func DefaultPolicy() PolicySpec {
	return PolicySpec{
		Version:    SchemaVersion,
		Enabled:    false,
		Priority:   128,
		Trigger:    DefaultTrigger(TriggerStatusTransition),
		Conditions: ConditionGroup{All: []Condition{}},
		Targets: TargetSpec{
			Type:     "vm",
			Selector: Selector{Mode: SelectorList},
		},
		Actions: []Action{},
	}
}
