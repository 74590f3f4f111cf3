package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/walnut-ops/walnut/pkg/policy"
)

// Backend is the server surface an editing session talks to. The HTTP client
// in pkg/client satisfies it; tests substitute stubs.
type Backend interface {
	Validate(ctx context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error)
	Save(ctx context.Context, id string, spec policy.PolicySpec) (string, error)
	DryRun(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error)
}

// Editing steps. Navigation is random access; a step never locks until its
// predecessors are complete.
const (
	StepTrigger = iota
	StepConditions
	StepSafeties
	StepActions
	StepReview
)

// DefaultDebounce is the idle time after the last edit before validation
// fires.
const DefaultDebounce = 450 * time.Millisecond

var (
	// ErrSchemaIssues refuses any save while structural issues remain.
	ErrSchemaIssues = errors.New("cannot save: policy has schema issues")
	// ErrNotClean refuses saving with enabled=true while any issue remains.
	ErrNotClean = errors.New("cannot enable: policy has unresolved issues")
)

// Session holds one policy being edited: the working spec, the current step
// and the latest validation verdict. Edits restart a debounce timer; when it
// fires the spec is validated in the background. Responses carry the sequence
// number of the edit they validated, and a response for an older sequence is
// dropped so it can never overwrite the verdict for a newer edit.
type Session struct {
	backend      Backend
	debounce     time.Duration
	onValidation func(*policy.ValidationResult)

	mu         sync.Mutex
	recordID   string
	spec       policy.PolicySpec
	step       int
	seq        uint64
	appliedSeq uint64
	validation *policy.ValidationResult
	dryRun     *policy.DryRunResult
	timer      *time.Timer
}

type Option func(*Session)

// WithDebounce overrides the idle interval before background validation.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.debounce = d }
}

// WithOnValidation registers a callback invoked after a validation verdict is
// applied to the session. Dropped stale responses never reach it.
func WithOnValidation(fn func(*policy.ValidationResult)) Option {
	return func(s *Session) { s.onValidation = fn }
}

func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:  backend,
		debounce: DefaultDebounce,
		spec:     policy.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open switches the session to another record. Everything per-record is
// reset: the step returns to the trigger page, pending and in-flight
// validations are discarded and the previous record's dry-run output is
// cleared. recordID is empty for a new, unsaved policy.
func (s *Session) Open(recordID string, initial policy.PolicySpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.recordID = recordID
	s.spec = initial
	s.step = StepTrigger
	s.seq++
	s.appliedSeq = s.seq
	s.validation = nil
	s.dryRun = nil
}

func (s *Session) RecordID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordID
}

// Spec returns a copy of the working spec.
func (s *Session) Spec() policy.PolicySpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// SetStep moves to another step. Out-of-range steps are rejected.
func (s *Session) SetStep(step int) bool {
	if step < StepTrigger || step > StepReview {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = step
	return true
}

// Validation returns the latest applied verdict, nil before the first one.
func (s *Session) Validation() *policy.ValidationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validation
}

// LastDryRun returns the most recent dry-run output for this record.
func (s *Session) LastDryRun() *policy.DryRunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dryRun
}

// Edit applies a pure transition to the working spec and restarts the
// debounce timer. Rapid successive edits therefore produce a single
// validation request once typing pauses.
func (s *Session) Edit(transform func(policy.PolicySpec) policy.PolicySpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spec = transform(s.spec)
	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() { s.runValidation(seq) })
}

func (s *Session) runValidation(seq uint64) {
	s.mu.Lock()
	if seq != s.seq {
		// Superseded by a later edit; its own timer is pending.
		s.mu.Unlock()
		return
	}
	spec := s.spec
	s.mu.Unlock()

	result, err := s.backend.Validate(context.Background(), spec)
	if err != nil {
		result = fetchFailure(err)
	}
	s.apply(seq, result)
}

func (s *Session) apply(seq uint64, result *policy.ValidationResult) {
	s.mu.Lock()
	if seq != s.seq || seq <= s.appliedSeq {
		s.mu.Unlock()
		return
	}
	s.validation = result
	s.appliedSeq = seq
	cb := s.onValidation
	s.mu.Unlock()
	if cb != nil {
		cb(result)
	}
}

// ValidateNow cancels any pending debounce and validates synchronously. Save
// paths use it so the decision is made against the current spec, not a stale
// verdict.
func (s *Session) ValidateNow(ctx context.Context) *policy.ValidationResult {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	seq := s.seq
	spec := s.spec
	s.mu.Unlock()

	result, err := s.backend.Validate(ctx, spec)
	if err != nil {
		result = fetchFailure(err)
	}
	s.apply(seq, result)
	return result
}

// SaveDisabled persists the spec with enabled forced off. Schema issues still
// block the save; compile issues do not, so half-built policies survive a
// browser close.
func (s *Session) SaveDisabled(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.spec.Enabled = false
	recordID := s.recordID
	s.mu.Unlock()

	result := s.ValidateNow(ctx)
	if len(result.Schema) > 0 {
		return "", ErrSchemaIssues
	}
	return s.save(ctx, recordID)
}

// SaveEnable persists the spec with enabled set. Any remaining issue, schema
// or compile, refuses the save and the spec stays disabled.
func (s *Session) SaveEnable(ctx context.Context) (string, error) {
	s.mu.Lock()
	wasEnabled := s.spec.Enabled
	s.spec.Enabled = true
	recordID := s.recordID
	s.mu.Unlock()

	result := s.ValidateNow(ctx)
	if !result.Clean() {
		s.mu.Lock()
		s.spec.Enabled = wasEnabled
		s.mu.Unlock()
		return "", ErrNotClean
	}
	return s.save(ctx, recordID)
}

func (s *Session) save(ctx context.Context, recordID string) (string, error) {
	s.mu.Lock()
	spec := s.spec
	s.mu.Unlock()

	id, err := s.backend.Save(ctx, recordID, spec)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.recordID = id
	s.mu.Unlock()
	return id, nil
}

// DryRun previews the whole working spec and keeps the output for the review
// step.
func (s *Session) DryRun(ctx context.Context) (*policy.DryRunResult, error) {
	s.mu.Lock()
	spec := s.spec
	s.mu.Unlock()

	result, err := s.backend.DryRun(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.dryRun = result
	s.mu.Unlock()
	return result, nil
}

// DryRunAction previews a single action in isolation by wrapping it in a
// synthetic one-action policy. The working spec is untouched.
func (s *Session) DryRunAction(ctx context.Context, i int) (*policy.DryRunResult, error) {
	s.mu.Lock()
	spec := s.spec
	s.mu.Unlock()

	synthetic, ok := policy.SyntheticSingleAction(spec, i)
	if !ok {
		return nil, fmt.Errorf("no action at index %d", i)
	}
	return s.backend.DryRun(ctx, synthetic)
}

// fetchFailure turns a transport or server error into a verdict the editor
// can render in the normal issue list instead of a modal.
func fetchFailure(err error) *policy.ValidationResult {
	return &policy.ValidationResult{
		OK:      false,
		Schema:  []policy.ValidationIssue{{Path: "root", Message: err.Error()}},
		Compile: []policy.ValidationIssue{},
	}
}
