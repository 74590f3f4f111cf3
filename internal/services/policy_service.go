package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/walnut-ops/walnut/internal/models"
	"github.com/walnut-ops/walnut/pkg/policy"
)

// PolicyService owns policy persistence, validation, compilation and
// dry-run planning. The stored spec is the canonical schema generation;
// validation rejects anything else instead of migrating.
type PolicyService struct {
	db     *gorm.DB
	logger *logrus.Logger
	events *EventHub
}

func NewPolicyService(db *gorm.DB, logger *logrus.Logger) *PolicyService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyService{db: db, logger: logger}
}

// SetEventHub injects the optional websocket hub for lifecycle events.
func (s *PolicyService) SetEventHub(h *EventHub) {
	s.events = h
}

// List returns saved policies ordered by priority, then name.
func (s *PolicyService) List(ctx context.Context) ([]models.PolicyRecord, error) {
	var records []models.PolicyRecord
	if err := s.db.WithContext(ctx).Order("priority ASC, name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return records, nil
}

// Get loads one policy record and its decoded spec.
func (s *PolicyService) Get(ctx context.Context, id string) (*models.PolicyRecord, policy.PolicySpec, error) {
	var record models.PolicyRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, policy.PolicySpec{}, err
	}
	var spec policy.PolicySpec
	if err := json.Unmarshal([]byte(record.Spec), &spec); err != nil {
		return nil, policy.PolicySpec{}, fmt.Errorf("decode stored spec %s: %w", id, err)
	}
	return &record, spec, nil
}

// Create validates and persists a new policy. Schema issues block the save;
// compile issues only block saving with enabled=true. The returned validation
// result is non-nil either way so handlers can render it.
func (s *PolicyService) Create(ctx context.Context, spec policy.PolicySpec) (*models.PolicyRecord, *policy.ValidationResult, error) {
	result := s.Validate(ctx, spec)
	if len(result.Schema) > 0 {
		return nil, result, ErrSchemaInvalid
	}
	if spec.Enabled && len(result.Compile) > 0 {
		return nil, result, ErrCompileInvalid
	}

	record := &models.PolicyRecord{
		ID:       uuid.NewString(),
		Name:     spec.Name,
		Enabled:  spec.Enabled,
		Priority: spec.Priority,
		Status:   statusFor(result),
		Hash:     result.Hash,
		Spec:     encodeSpec(spec),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, result, fmt.Errorf("create policy: %w", err)
	}
	s.broadcast("policy.saved", record.ID, record.Name)
	return record, result, nil
}

// Update validates and replaces a stored policy. Last write wins; there is no
// optimistic-concurrency token.
func (s *PolicyService) Update(ctx context.Context, id string, spec policy.PolicySpec) (*models.PolicyRecord, *policy.ValidationResult, error) {
	record, _, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	result := s.Validate(ctx, spec)
	if len(result.Schema) > 0 {
		return nil, result, ErrSchemaInvalid
	}
	if spec.Enabled && len(result.Compile) > 0 {
		return nil, result, ErrCompileInvalid
	}

	record.Name = spec.Name
	record.Enabled = spec.Enabled
	record.Priority = spec.Priority
	record.Status = statusFor(result)
	record.Hash = result.Hash
	record.Spec = encodeSpec(spec)
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, result, fmt.Errorf("update policy: %w", err)
	}
	s.broadcast("policy.saved", record.ID, record.Name)
	return record, result, nil
}

// Delete removes a policy.
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.PolicyRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	s.broadcast("policy.deleted", id, "")
	return nil
}

// SetEnabled flips only the enabled flag, preserving the rest of the stored
// spec. Enabling revalidates: a policy with compile errors cannot be enabled.
func (s *PolicyService) SetEnabled(ctx context.Context, id string, enabled bool) (*models.PolicyRecord, error) {
	record, spec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if enabled {
		result := s.Validate(ctx, spec)
		if !result.Clean() {
			return nil, ErrCompileInvalid
		}
	}
	spec.Enabled = enabled
	record.Enabled = enabled
	record.Spec = encodeSpec(spec)
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		return nil, fmt.Errorf("toggle policy: %w", err)
	}
	s.broadcast("policy.saved", record.ID, record.Name)
	return record, nil
}

// Validate runs schema checks and, when those pass, compile resolution.
// It never returns an error; unresolvable state becomes issues in the result.
func (s *PolicyService) Validate(ctx context.Context, spec policy.PolicySpec) *policy.ValidationResult {
	result := &policy.ValidationResult{
		Schema:  validateSchema(spec),
		Compile: []policy.ValidationIssue{},
	}
	if len(result.Schema) > 0 {
		return result
	}

	ir, compile := s.compile(ctx, spec)
	result.Compile = compile
	if len(compile) == 0 {
		result.OK = true
		result.IR = ir
		result.Hash = specHash(spec)
	}
	return result
}

// Test compiles the spec and returns the plan preview without executing or
// persisting anything.
func (s *PolicyService) Test(ctx context.Context, spec policy.PolicySpec) (*policy.TestResult, error) {
	result := s.Validate(ctx, spec)
	if !result.Clean() {
		issues := append(result.Schema, result.Compile...)
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			msgs = append(msgs, issue.Path+": "+issue.Message)
		}
		return &policy.TestResult{Status: "error", Plan: []policy.PlanStep{}}, fmt.Errorf("spec does not compile: %s", strings.Join(msgs, "; "))
	}
	return &policy.TestResult{Status: "ok", Plan: result.IR.Steps}, nil
}

// DryRunSpec evaluates the compiled plan against stored inventory. Every
// target gets its own row; one failing target never aborts the others.
func (s *PolicyService) DryRunSpec(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error) {
	result := s.Validate(ctx, spec)
	if !result.Clean() {
		return nil, ErrCompileInvalid
	}

	never := make(map[string]bool, len(spec.Safeties.NeverTargets))
	for _, t := range spec.Safeties.NeverTargets {
		never[t] = true
	}

	out := &policy.DryRunResult{
		Severity:      policy.SeverityInfo,
		Results:       []policy.DryRunRow{},
		TranscriptID:  uuid.NewString(),
		UsedInventory: spec.Targets.HostID,
	}

	for _, step := range result.IR.Steps {
		known, err := s.inventoryIDs(ctx, step.HostID, spec.Targets.Type)
		if err != nil {
			return nil, fmt.Errorf("load inventory: %w", err)
		}
		targets := step.Targets
		if len(targets) == 1 && strings.HasPrefix(targets[0], "query:") {
			query := strings.TrimPrefix(targets[0], "query:")
			targets = s.resolveQuery(ctx, step.HostID, spec.Targets.Type, query)
			if len(targets) == 0 {
				out.Results = append(out.Results, policy.DryRunRow{
					TargetID:      query,
					Capability:    step.Capability,
					Verb:          step.Verb,
					Driver:        step.Driver,
					OK:            false,
					Severity:      policy.SeverityWarn,
					Preconditions: []string{},
					Plan:          policy.PlanPreview{Kind: step.Capability, Preview: "query matched nothing"},
					Effects:       policy.Effects{Summary: "no-op"},
					Reason:        fmt.Sprintf("query %q matched no inventory", query),
				})
				if severityRank(policy.SeverityWarn) > severityRank(out.Severity) {
					out.Severity = policy.SeverityWarn
				}
				continue
			}
		}
		for _, target := range targets {
			row := policy.DryRunRow{
				TargetID:       target,
				Capability:     step.Capability,
				Verb:           step.Verb,
				Driver:         step.Driver,
				IdempotencyKey: idempotencyKey(result.Hash, step, target),
				Preconditions:  []string{},
				Plan: policy.PlanPreview{
					Kind:    step.Capability,
					Preview: fmt.Sprintf("%s %s -> %s", step.Capability, step.Verb, target),
				},
			}
			switch {
			case never[target]:
				row.OK = false
				row.Severity = policy.SeverityWarn
				row.Reason = "target excluded by safeties.never_targets"
				row.Effects = policy.Effects{Summary: "skipped"}
			case len(known) > 0 && !known[target]:
				row.OK = false
				row.Severity = policy.SeverityError
				row.Reason = fmt.Sprintf("target %s not present in inventory", target)
				row.Effects = policy.Effects{Summary: "no-op"}
			default:
				row.OK = true
				row.Severity = policy.SeverityInfo
				row.Preconditions = []string{"driver reachable"}
				row.Effects = policy.Effects{
					Summary:   fmt.Sprintf("would invoke %s.%s", step.Capability, step.Verb),
					PerTarget: map[string]string{target: step.Verb},
				}
			}
			if severityRank(row.Severity) > severityRank(out.Severity) {
				out.Severity = row.Severity
			}
			out.Results = append(out.Results, row)
		}
	}
	return out, nil
}

// DryRun previews a saved policy by id, records the run and updates the
// record's last-run fields.
func (s *PolicyService) DryRun(ctx context.Context, id string) (*policy.DryRunResult, error) {
	record, spec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := s.DryRunSpec(ctx, spec)
	if err != nil {
		s.recordRun(ctx, models.PolicyRun{PolicyID: id, Kind: "dry_run", Status: "failed", Message: err.Error()})
		return nil, err
	}

	status := "success"
	if result.Severity == policy.SeverityError {
		status = "failed"
	}
	s.recordRun(ctx, models.PolicyRun{
		PolicyID:     id,
		Kind:         "dry_run",
		Status:       status,
		Severity:     result.Severity,
		TranscriptID: result.TranscriptID,
	})

	now := time.Now()
	record.LastRunAt = &now
	record.LastRunStatus = status
	if err := s.db.WithContext(ctx).Save(record).Error; err != nil {
		s.logger.Warnf("policy %s: update last run failed: %v", id, err)
	}
	s.broadcast("policy.dry_run", id, record.Name)
	return result, nil
}

// Inverse derives the reverse policy for a saved one: power verbs are paired
// (shutdown/start, stop/start, disable/enable) and a status transition
// trigger has its from/to swapped. The result is returned disabled and
// unsaved for the operator to review.
func (s *PolicyService) Inverse(ctx context.Context, id string) (policy.PolicySpec, error) {
	_, spec, err := s.Get(ctx, id)
	if err != nil {
		return policy.PolicySpec{}, err
	}

	inverse := spec
	inverse.Name = "Inverse: " + spec.Name
	inverse.Enabled = false
	if policy.CanonicalTriggerType(spec.Trigger.Type) == policy.TriggerStatusTransition {
		inverse.Trigger.From, inverse.Trigger.To = spec.Trigger.To, spec.Trigger.From
	}

	inverse.Actions = make([]policy.Action, len(spec.Actions))
	// Reverse execution order as well: undo happens back to front.
	for i, action := range spec.Actions {
		paired, ok := inverseVerbs[action.Verb]
		if !ok {
			return policy.PolicySpec{}, fmt.Errorf("action %d: verb %q has no inverse pairing", i, action.Verb)
		}
		action.Verb = paired
		inverse.Actions[len(spec.Actions)-1-i] = action
	}
	return inverse, nil
}

// Runs lists the audit trail for one policy, newest first.
func (s *PolicyService) Runs(ctx context.Context, id string) ([]models.PolicyRun, error) {
	var runs []models.PolicyRun
	if err := s.db.WithContext(ctx).Where("policy_id = ?", id).Order("id DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

var inverseVerbs = map[string]string{
	"shutdown": "start",
	"start":    "shutdown",
	"stop":     "start",
	"suspend":  "resume",
	"resume":   "suspend",
	"disable":  "enable",
	"enable":   "disable",
}

func (s *PolicyService) recordRun(ctx context.Context, run models.PolicyRun) {
	run.CreatedAt = time.Now()
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logger.Warnf("policy %s: record run failed: %v", run.PolicyID, err)
	}
}

// resolveQuery interprets a query selector against stored inventory. Two
// predicate forms are understood, matching what the drivers report:
// "state:<value>" and "name:<prefix>". Anything else selects the whole
// inventory slice for the host/type.
func (s *PolicyService) resolveQuery(ctx context.Context, hostID, targetType, query string) []string {
	q := s.db.WithContext(ctx).Model(&models.InventoryItem{})
	if hostID != "" {
		q = q.Where("host_id = ?", hostID)
	}
	if targetType != "" {
		q = q.Where("type = ?", targetType)
	}
	switch {
	case strings.HasPrefix(query, "state:"):
		q = q.Where("state = ?", strings.TrimPrefix(query, "state:"))
	case strings.HasPrefix(query, "name:"):
		q = q.Where("name LIKE ?", strings.TrimPrefix(query, "name:")+"%")
	}
	var ids []string
	if err := q.Order("external_id ASC").Pluck("external_id", &ids).Error; err != nil {
		s.logger.Warnf("resolve query %q: %v", query, err)
		return nil
	}
	return ids
}

func (s *PolicyService) broadcast(event, id, name string) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(Event{Type: event, PolicyID: id, PolicyName: name, Timestamp: time.Now()})
}

// inventoryIDs returns the known external ids for a host (all hosts when
// hostID is empty), optionally narrowed by target type.
func (s *PolicyService) inventoryIDs(ctx context.Context, hostID, targetType string) (map[string]bool, error) {
	q := s.db.WithContext(ctx).Model(&models.InventoryItem{})
	if hostID != "" {
		q = q.Where("host_id = ?", hostID)
	}
	if targetType != "" {
		q = q.Where("type = ?", targetType)
	}
	var ids []string
	if err := q.Pluck("external_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func statusFor(result *policy.ValidationResult) string {
	if result.Clean() {
		return "valid"
	}
	return "invalid"
}

func encodeSpec(spec policy.PolicySpec) string {
	raw, _ := json.Marshal(spec)
	return string(raw)
}

func specHash(spec policy.PolicySpec) string {
	sum := sha256.Sum256([]byte(encodeSpec(spec)))
	return hex.EncodeToString(sum[:])
}

func idempotencyKey(hash string, step policy.PlanStep, target string) string {
	sum := sha256.Sum256([]byte(hash + "|" + step.Capability + "|" + step.Verb + "|" + target))
	return hex.EncodeToString(sum[:8])
}

func severityRank(s string) int {
	switch s {
	case policy.SeverityError:
		return 2
	case policy.SeverityWarn:
		return 1
	default:
		return 0
	}
}

// compile resolves every action against the integration catalog and builds
// the plan IR. Returned issues use compile paths so the console can separate
// them from schema problems.
func (s *PolicyService) compile(ctx context.Context, spec policy.PolicySpec) (*policy.PlanIR, []policy.ValidationIssue) {
	var issues []policy.ValidationIssue
	ir := &policy.PlanIR{Steps: []policy.PlanStep{}}

	var types []models.IntegrationType
	if err := s.db.WithContext(ctx).Find(&types).Error; err != nil {
		return nil, []policy.ValidationIssue{{Path: "root", Message: fmt.Sprintf("load integration types: %v", err)}}
	}
	typeByName := make(map[string]*models.IntegrationType, len(types))
	for i := range types {
		typeByName[types[i].Name] = &types[i]
	}

	if spec.Targets.HostID != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Host{}).Where("id = ?", spec.Targets.HostID).Count(&count).Error; err == nil && count == 0 {
			issues = append(issues, policy.ValidationIssue{Path: "targets.host_id", Message: fmt.Sprintf("unknown host %q", spec.Targets.HostID)})
		}
	}

	for i, action := range spec.Actions {
		path := fmt.Sprintf("actions[%d]", i)

		integType, issue := s.resolveType(ctx, typeByName, action, path)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		if !verbAdvertised(integType, action.Capability, action.Verb) {
			issues = append(issues, policy.ValidationIssue{
				Path:    path + ".verb",
				Message: fmt.Sprintf("capability %q does not advertise verb %q on integration %q", action.Capability, action.Verb, integType.Name),
			})
			continue
		}

		targets, issue := resolveTargets(action, spec.Targets, path)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}

		hostID := action.HostID
		if hostID == "" {
			hostID = spec.Targets.HostID
		}
		ir.Steps = append(ir.Steps, policy.PlanStep{
			Capability: action.Capability,
			Verb:       action.Verb,
			Driver:     integType.Driver,
			HostID:     hostID,
			Targets:    targets,
		})
	}

	if len(issues) > 0 {
		return nil, issues
	}
	return ir, issues
}

// resolveType finds the integration type for an action: explicitly via
// instance_id, otherwise the first active type advertising the capability.
func (s *PolicyService) resolveType(ctx context.Context, typeByName map[string]*models.IntegrationType, action policy.Action, path string) (*models.IntegrationType, *policy.ValidationIssue) {
	if action.Capability == "" {
		return nil, &policy.ValidationIssue{Path: path + ".capability", Message: "capability is required"}
	}

	if action.InstanceID != "" {
		var instance models.IntegrationInstance
		if err := s.db.WithContext(ctx).First(&instance, "id = ?", action.InstanceID).Error; err != nil {
			return nil, &policy.ValidationIssue{Path: path + ".instance_id", Message: fmt.Sprintf("unknown integration instance %q", action.InstanceID)}
		}
		integType, ok := typeByName[instance.TypeName]
		if !ok {
			return nil, &policy.ValidationIssue{Path: path + ".instance_id", Message: fmt.Sprintf("instance %q references unknown type %q", action.InstanceID, instance.TypeName)}
		}
		return integType, nil
	}

	names := make([]string, 0, len(typeByName))
	for name := range typeByName {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic resolution
	for _, name := range names {
		if capabilityAdvertised(typeByName[name], action.Capability) {
			return typeByName[name], nil
		}
	}
	return nil, &policy.ValidationIssue{Path: path + ".capability", Message: fmt.Sprintf("no integration advertises capability %q", action.Capability)}
}

func capabilityAdvertised(t *models.IntegrationType, capability string) bool {
	for _, c := range t.CapabilityList() {
		if c.Capability == capability {
			return true
		}
	}
	return false
}

func verbAdvertised(t *models.IntegrationType, capability, verb string) bool {
	for _, c := range t.CapabilityList() {
		if c.Capability != capability {
			continue
		}
		for _, v := range c.Verbs {
			if v == verb {
				return true
			}
		}
	}
	return false
}

// resolveTargets expands the effective selector for an action. The action's
// own selector wins over the policy-level target selector when set.
func resolveTargets(action policy.Action, targets policy.TargetSpec, path string) ([]string, *policy.ValidationIssue) {
	sel := action.Selector
	if sel.Value == "" {
		sel = targets.Selector
	}
	switch sel.Mode {
	case policy.SelectorRange:
		expanded := policy.ExpandRange(sel.Value)
		if len(expanded) == 0 {
			return nil, &policy.ValidationIssue{Path: path + ".selector", Message: fmt.Sprintf("range selector %q expands to no targets", sel.Value)}
		}
		return expanded, nil
	case policy.SelectorQuery:
		if strings.TrimSpace(sel.Value) == "" {
			return nil, &policy.ValidationIssue{Path: path + ".selector", Message: "query selector is empty"}
		}
		// Queries stay opaque until dry run resolves them against inventory.
		return []string{"query:" + sel.Value}, nil
	default:
		expanded := policy.ExpandList(sel.Value)
		if len(expanded) == 0 {
			return nil, &policy.ValidationIssue{Path: path + ".selector", Message: "list selector names no targets"}
		}
		return expanded, nil
	}
}
