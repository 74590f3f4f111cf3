package policy

// Trigger types (canonical names). Aliases from the previous schema
// generation are accepted on input and canonicalized; serialization always
// emits the canonical name.
const (
	TriggerStatusTransition = "status_transition"
	TriggerMetricThreshold  = "metric.threshold"
	TriggerSchedule         = "schedule"
	TriggerTimerAfter       = "timer.after"
)

var triggerAliases = map[string]string{
	"ups.state": TriggerStatusTransition,
	"duration":  TriggerMetricThreshold,
	"timer.at":  TriggerSchedule,
}

// CanonicalTriggerType maps aliases to canonical trigger type names.
// Unknown names are returned unchanged so validation can report them.
func CanonicalTriggerType(t string) string {
	if c, ok := triggerAliases[t]; ok {
		return c
	}
	return t
}

// TriggerTypes lists the canonical trigger types in display order.
func TriggerTypes() []string {
	return []string{TriggerStatusTransition, TriggerMetricThreshold, TriggerSchedule, TriggerTimerAfter}
}

// MetricOps are the comparison operators valid for metric threshold triggers
// and numeric condition fields.
var MetricOps = []string{">", ">=", "<", "<=", "=", "!="}

// ScheduleRepeats are the valid schedule recurrence values.
var ScheduleRepeats = []string{"hourly", "daily", "weekly", "monthly"}

// UPS states used by status transition triggers and the ups.state field.
var UPSStates = []string{"online", "on_battery", "low_battery", "charging"}

// DefaultTrigger returns the sane default trigger for the given type.
// Switching a trigger's type must go through here so that no field from the
// previous variant survives into the new one.
func DefaultTrigger(t string) Trigger {
	switch CanonicalTriggerType(t) {
	case TriggerMetricThreshold:
		v := 50.0
		return Trigger{Type: TriggerMetricThreshold, Metric: "battery.charge", Op: "<", Value: &v}
	case TriggerSchedule:
		return Trigger{Type: TriggerSchedule, Repeat: "daily", At: "02:00"}
	case TriggerTimerAfter:
		return Trigger{Type: TriggerTimerAfter, Event: "ups.state", Equals: "on_battery", After: "300s"}
	default:
		return Trigger{Type: TriggerStatusTransition, From: "online", To: "on_battery"}
	}
}

// FieldType classifies a condition field's value so that the valid operator
// set and the value editor are derivable from one source.
type FieldType string

const (
	FieldNumber  FieldType = "number"
	FieldString  FieldType = "string"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
)

// FieldDef declares one condition field: its name, value type and, for enum
// fields, the allowed values.
type FieldDef struct {
	Name string
	Type FieldType
	Enum []string
}

// conditionFields is the central field -> type lookup table. Scope and field
// cascades in the editor, operator validation in the service, and value
// zeroing all read from here; nothing infers types ad hoc.
var conditionFields = map[string][]FieldDef{
	"ups": {
		{Name: "state", Type: FieldEnum, Enum: UPSStates},
		{Name: "runtime_minutes", Type: FieldNumber},
		{Name: "load", Type: FieldNumber},
		{Name: "battery_percent", Type: FieldNumber},
	},
	"host": {
		{Name: "reachable", Type: FieldBoolean},
		{Name: "cpu_load", Type: FieldNumber},
		{Name: "uptime_minutes", Type: FieldNumber},
	},
	"metric": {
		{Name: "value", Type: FieldNumber},
		{Name: "count_matching", Type: FieldNumber},
	},
	"vm": {
		{Name: "power_state", Type: FieldEnum, Enum: []string{"running", "stopped", "suspended"}},
		{Name: "count_matching", Type: FieldNumber},
		{Name: "name", Type: FieldString},
	},
}

// ConditionScopes lists the condition scopes in display order.
func ConditionScopes() []string {
	return []string{"ups", "host", "metric", "vm"}
}

// FieldsFor returns the field definitions for a scope, or nil for an unknown
// scope.
func FieldsFor(scope string) []FieldDef {
	return conditionFields[scope]
}

// FieldDefFor looks up one field definition within a scope.
func FieldDefFor(scope, field string) (FieldDef, bool) {
	for _, def := range conditionFields[scope] {
		if def.Name == field {
			return def, true
		}
	}
	return FieldDef{}, false
}

// OpsFor returns the comparison operators valid for a field type.
func OpsFor(t FieldType) []string {
	switch t {
	case FieldNumber:
		return MetricOps
	case FieldString:
		return []string{"=", "!=", "contains", "prefix"}
	case FieldBoolean:
		return []string{"="}
	case FieldEnum:
		return []string{"=", "!="}
	default:
		return nil
	}
}

// ValidOp reports whether op is valid for the field type.
func ValidOp(t FieldType, op string) bool {
	for _, o := range OpsFor(t) {
		if o == op {
			return true
		}
	}
	return false
}

// ZeroValue returns the typed zero value for a field: 0 for numbers, empty
// string for strings, false for booleans, and the first allowed value for
// enums.
func ZeroValue(def FieldDef) interface{} {
	switch def.Type {
	case FieldNumber:
		return float64(0)
	case FieldBoolean:
		return false
	case FieldEnum:
		if len(def.Enum) > 0 {
			return def.Enum[0]
		}
		return ""
	default:
		return ""
	}
}

// DefaultCondition returns the condition appended by the editor's Add button:
// first scope, its first field, the first valid operator for that field's
// type, and the type's zero value.
func DefaultCondition() Condition {
	scope := ConditionScopes()[0]
	def := conditionFields[scope][0]
	return Condition{
		Scope: scope,
		Field: def.Name,
		Op:    OpsFor(def.Type)[0],
		Value: ZeroValue(def),
	}
}
