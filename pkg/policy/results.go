package policy

// Severity levels used by validation and dry-run results.
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

// ValidationIssue is one schema or compile finding, addressed by a JSON-ish
// path into the spec ("actions[2].verb", "trigger.op", "root").
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the backend's answer to POST /policies/validate.
// Schema issues block saving entirely; compile issues block enabling but not
// saving-as-disabled.
type ValidationResult struct {
	OK      bool              `json:"ok"`
	Schema  []ValidationIssue `json:"schema"`
	Compile []ValidationIssue `json:"compile"`
	IR      *PlanIR           `json:"ir,omitempty"`
	Hash    string            `json:"hash,omitempty"`
}

// SchemaClean reports whether the result carries no schema issues.
func (r *ValidationResult) SchemaClean() bool {
	return r != nil && len(r.Schema) == 0
}

// Clean reports whether the result carries no schema or compile issues.
func (r *ValidationResult) Clean() bool {
	return r != nil && len(r.Schema) == 0 && len(r.Compile) == 0
}

// PlanIR is the deterministic executable form a spec compiles into.
type PlanIR struct {
	Steps []PlanStep `json:"steps"`
}

// PlanStep is one compiled action with its resolved driver and targets.
type PlanStep struct {
	Capability string   `json:"capability"`
	Verb       string   `json:"verb"`
	Driver     string   `json:"driver"`
	HostID     string   `json:"host_id,omitempty"`
	Targets    []string `json:"targets"`
}

// TestResult is the backend's answer to POST /policies/test.
type TestResult struct {
	Status string     `json:"status"`
	Plan   []PlanStep `json:"plan"`
}

// PlanPreview is a short human-readable rendering of one planned step.
type PlanPreview struct {
	Kind    string `json:"kind"`
	Preview string `json:"preview"`
}

// Effects summarizes what a planned step would do.
type Effects struct {
	Summary   string            `json:"summary"`
	PerTarget map[string]string `json:"per_target,omitempty"`
}

// DryRunRow is the outcome for a single target. A failed target never aborts
// the run; every row is returned with its own severity.
type DryRunRow struct {
	TargetID       string      `json:"target_id"`
	Capability     string      `json:"capability"`
	Verb           string      `json:"verb"`
	Driver         string      `json:"driver"`
	OK             bool        `json:"ok"`
	Severity       string      `json:"severity"`
	IdempotencyKey string      `json:"idempotency_key"`
	Preconditions  []string    `json:"preconditions"`
	Plan           PlanPreview `json:"plan"`
	Effects        Effects     `json:"effects"`
	Reason         string      `json:"reason,omitempty"`
}

// DryRunResult is a non-mutating preview of what a policy's actions would do.
// Severity is the maximum severity across rows.
type DryRunResult struct {
	Severity      string      `json:"severity"`
	Results       []DryRunRow `json:"results"`
	TranscriptID  string      `json:"transcript_id"`
	UsedInventory string      `json:"used_inventory"`
}
