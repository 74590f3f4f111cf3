package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/walnut-ops/walnut/pkg/policy"
)

// Sentinel errors so handlers can map validation outcomes to status codes.
var (
	ErrSchemaInvalid  = errors.New("policy has schema errors")
	ErrCompileInvalid = errors.New("policy has compile errors")
)

var (
	durationRe  = regexp.MustCompile(`^\d+(s|m|h)$`)
	timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

var weekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true, "sun": true,
}

// validateSchema performs pure structural validation against the canonical
// schema generation. Anything it reports blocks saving; semantic resolution
// problems belong to compile, not here.
func validateSchema(spec policy.PolicySpec) []policy.ValidationIssue {
	issues := []policy.ValidationIssue{}
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, policy.ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if spec.Version != policy.SchemaVersion {
		add("version", "unsupported schema version %d (want %d)", spec.Version, policy.SchemaVersion)
	}
	if strings.TrimSpace(spec.Name) == "" {
		add("name", "name must not be empty")
	}
	if spec.Priority < 0 || spec.Priority > 255 {
		add("priority", "priority %d out of range 0-255", spec.Priority)
	}

	issues = append(issues, validateTrigger(spec.Trigger)...)

	for i, cond := range spec.Conditions.All {
		issues = append(issues, validateCondition(fmt.Sprintf("conditions.all[%d]", i), cond)...)
	}
	for i, cond := range spec.Conditions.Any {
		issues = append(issues, validateCondition(fmt.Sprintf("conditions.any[%d]", i), cond)...)
	}

	if d := spec.Safeties.SuppressionWindow; d != "" && !durationRe.MatchString(d) {
		add("safeties.suppression_window", "invalid duration %q (want e.g. 300s, 5m)", d)
	}
	if d := spec.Safeties.IdempotencyWindow; d != "" && !durationRe.MatchString(d) {
		add("safeties.idempotency_window", "invalid duration %q (want e.g. 300s, 5m)", d)
	}

	switch spec.Targets.Selector.Mode {
	case policy.SelectorList, policy.SelectorRange, policy.SelectorQuery:
	default:
		add("targets.selector.mode", "unknown selector mode %q", spec.Targets.Selector.Mode)
	}

	for i, action := range spec.Actions {
		path := fmt.Sprintf("actions[%d]", i)
		if action.Concurrency < 1 {
			add(path+".concurrency", "concurrency must be at least 1")
		}
		if action.BackoffMS < 0 {
			add(path+".backoff_ms", "backoff must not be negative")
		}
		if action.TimeoutS < 1 {
			add(path+".timeout_s", "timeout must be at least 1s")
		}
		if action.Selector.Mode != "" {
			switch action.Selector.Mode {
			case policy.SelectorList, policy.SelectorRange, policy.SelectorQuery:
			default:
				add(path+".selector.mode", "unknown selector mode %q", action.Selector.Mode)
			}
		}
	}

	return issues
}

func validateTrigger(trig policy.Trigger) []policy.ValidationIssue {
	issues := []policy.ValidationIssue{}
	add := func(path, format string, args ...interface{}) {
		issues = append(issues, policy.ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch policy.CanonicalTriggerType(trig.Type) {
	case policy.TriggerStatusTransition:
		if trig.From != "" && !upsState(trig.From) {
			add("trigger.from", "unknown UPS state %q", trig.From)
		}
		if trig.To != "" && !upsState(trig.To) {
			add("trigger.to", "unknown UPS state %q", trig.To)
		}
		if trig.From == "" && trig.To == "" {
			add("trigger", "status transition needs at least one of from/to")
		}
		if trig.StableFor != "" && !durationRe.MatchString(trig.StableFor) {
			add("trigger.stable_for", "invalid duration %q", trig.StableFor)
		}
	case policy.TriggerMetricThreshold:
		if trig.Metric == "" {
			add("trigger.metric", "metric name is required")
		}
		if !contains(policy.MetricOps, trig.Op) {
			add("trigger.op", "unknown comparison operator %q", trig.Op)
		}
		if trig.Value == nil {
			add("trigger.value", "threshold value is required")
		}
		if trig.For != "" && !durationRe.MatchString(trig.For) {
			add("trigger.for", "invalid duration %q", trig.For)
		}
	case policy.TriggerSchedule:
		if !contains(policy.ScheduleRepeats, trig.Repeat) {
			add("trigger.repeat", "unknown repeat %q", trig.Repeat)
		}
		if !timeOfDayRe.MatchString(trig.At) {
			add("trigger.at", "invalid time of day %q (want HH:MM)", trig.At)
		}
		if len(trig.Days) > 0 && trig.Repeat != "weekly" {
			add("trigger.days", "days only apply to weekly schedules")
		}
		for _, d := range trig.Days {
			if !weekdays[d] {
				add("trigger.days", "unknown weekday %q", d)
			}
		}
	case policy.TriggerTimerAfter:
		if trig.Event == "" {
			add("trigger.event", "event name is required")
		}
		if trig.Equals == "" {
			add("trigger.equals", "expected event value is required")
		}
		if !durationRe.MatchString(trig.After) {
			add("trigger.after", "invalid duration %q", trig.After)
		}
	default:
		add("trigger.type", "unknown trigger type %q", trig.Type)
	}

	return issues
}

func validateCondition(path string, cond policy.Condition) []policy.ValidationIssue {
	issues := []policy.ValidationIssue{}
	add := func(sub, format string, args ...interface{}) {
		issues = append(issues, policy.ValidationIssue{Path: path + sub, Message: fmt.Sprintf(format, args...)})
	}

	if policy.FieldsFor(cond.Scope) == nil {
		add(".scope", "unknown scope %q", cond.Scope)
		return issues
	}
	def, ok := policy.FieldDefFor(cond.Scope, cond.Field)
	if !ok {
		add(".field", "unknown field %q for scope %q", cond.Field, cond.Scope)
		return issues
	}
	if !policy.ValidOp(def.Type, cond.Op) {
		add(".op", "operator %q not valid for %s field %q", cond.Op, def.Type, cond.Field)
	}

	switch def.Type {
	case policy.FieldNumber:
		switch cond.Value.(type) {
		case float64, int, int64:
		default:
			add(".value", "field %q expects a number", cond.Field)
		}
	case policy.FieldBoolean:
		if _, ok := cond.Value.(bool); !ok {
			add(".value", "field %q expects a boolean", cond.Field)
		}
	case policy.FieldString:
		if _, ok := cond.Value.(string); !ok {
			add(".value", "field %q expects a string", cond.Field)
		}
	case policy.FieldEnum:
		v, ok := cond.Value.(string)
		if !ok || !contains(def.Enum, v) {
			add(".value", "field %q expects one of %s", cond.Field, strings.Join(def.Enum, ", "))
		}
	}

	return issues
}

func upsState(s string) bool {
	return contains(policy.UPSStates, s)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
