package wizard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walnut-ops/walnut/pkg/policy"
)

type stubBackend struct {
	validate func(ctx context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error)
	save     func(ctx context.Context, id string, spec policy.PolicySpec) (string, error)
	dryRun   func(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error)
}

func (b *stubBackend) Validate(ctx context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
	return b.validate(ctx, spec)
}

func (b *stubBackend) Save(ctx context.Context, id string, spec policy.PolicySpec) (string, error) {
	if b.save == nil {
		return "", errors.New("save not stubbed")
	}
	return b.save(ctx, id, spec)
}

func (b *stubBackend) DryRun(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error) {
	if b.dryRun == nil {
		return nil, errors.New("dry run not stubbed")
	}
	return b.dryRun(ctx, spec)
}

func cleanResult() *policy.ValidationResult {
	return &policy.ValidationResult{
		OK:      true,
		Schema:  []policy.ValidationIssue{},
		Compile: []policy.ValidationIssue{},
	}
}

func TestEdit_DebounceCoalescesRapidEdits(t *testing.T) {
	var calls int64
	applied := make(chan *policy.ValidationResult, 1)
	backend := &stubBackend{
		validate: func(_ context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
			atomic.AddInt64(&calls, 1)
			return cleanResult(), nil
		},
	}
	s := NewSession(backend,
		WithDebounce(40*time.Millisecond),
		WithOnValidation(func(r *policy.ValidationResult) { applied <- r }),
	)

	for _, name := range []string{"s", "sh", "shu", "shut", "shutdown"} {
		n := name
		s.Edit(func(spec policy.PolicySpec) policy.PolicySpec {
			spec.Name = n
			return spec
		})
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never fired")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "five rapid edits must validate once")
	assert.Equal(t, "shutdown", s.Spec().Name)
	require.NotNil(t, s.Validation())
	assert.True(t, s.Validation().OK)
}

func TestEdit_StaleResponseNeverClobbersNewer(t *testing.T) {
	release := make(chan struct{})
	dispatched := make(chan string, 2)
	backend := &stubBackend{
		validate: func(_ context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
			dispatched <- spec.Name
			if spec.Name == "first" {
				<-release // hold the first response until the second is done
			}
			r := cleanResult()
			r.Hash = spec.Name
			return r, nil
		},
	}
	applied := make(chan string, 2)
	s := NewSession(backend,
		WithDebounce(5*time.Millisecond),
		WithOnValidation(func(r *policy.ValidationResult) { applied <- r.Hash }),
	)

	s.Edit(func(spec policy.PolicySpec) policy.PolicySpec {
		spec.Name = "first"
		return spec
	})
	require.Equal(t, "first", <-dispatched)

	s.Edit(func(spec policy.PolicySpec) policy.PolicySpec {
		spec.Name = "second"
		return spec
	})
	require.Equal(t, "second", <-dispatched)
	require.Equal(t, "second", <-applied)

	close(release)
	select {
	case hash := <-applied:
		t.Fatalf("stale response %q was applied", hash)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, "second", s.Validation().Hash)
}

func TestValidateNow_FetchErrorBecomesRootIssue(t *testing.T) {
	backend := &stubBackend{
		validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))

	result := s.ValidateNow(context.Background())

	assert.False(t, result.OK)
	require.Len(t, result.Schema, 1)
	assert.Equal(t, "root", result.Schema[0].Path)
	assert.Contains(t, result.Schema[0].Message, "connection refused")
	assert.Empty(t, result.Compile)
}

func TestSaveDisabled_BlockedBySchemaIssues(t *testing.T) {
	saved := false
	backend := &stubBackend{
		validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
			return &policy.ValidationResult{
				Schema:  []policy.ValidationIssue{{Path: "name", Message: "name must not be empty"}},
				Compile: []policy.ValidationIssue{},
			}, nil
		},
		save: func(context.Context, string, policy.PolicySpec) (string, error) {
			saved = true
			return "p1", nil
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))

	_, err := s.SaveDisabled(context.Background())

	assert.ErrorIs(t, err, ErrSchemaIssues)
	assert.False(t, saved)
}

func TestSaveDisabled_AllowedWithCompileIssues(t *testing.T) {
	var savedSpec policy.PolicySpec
	backend := &stubBackend{
		validate: func(_ context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
			return &policy.ValidationResult{
				Schema:  []policy.ValidationIssue{},
				Compile: []policy.ValidationIssue{{Path: "actions[0].verb", Message: "unknown verb"}},
			}, nil
		},
		save: func(_ context.Context, id string, spec policy.PolicySpec) (string, error) {
			savedSpec = spec
			return "p1", nil
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))
	s.Edit(func(spec policy.PolicySpec) policy.PolicySpec {
		spec.Enabled = true // user toggle; disabled save must override it
		return spec
	})

	id, err := s.SaveDisabled(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "p1", id)
	assert.Equal(t, "p1", s.RecordID())
	assert.False(t, savedSpec.Enabled)
}

func TestSaveEnable_RefusedUntilClean(t *testing.T) {
	clean := false
	backend := &stubBackend{
		validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
			if clean {
				return cleanResult(), nil
			}
			return &policy.ValidationResult{
				Schema:  []policy.ValidationIssue{},
				Compile: []policy.ValidationIssue{{Path: "targets.host_id", Message: "unknown host"}},
			}, nil
		},
		save: func(_ context.Context, id string, spec policy.PolicySpec) (string, error) {
			return "p2", nil
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))

	_, err := s.SaveEnable(context.Background())
	assert.ErrorIs(t, err, ErrNotClean)
	assert.False(t, s.Spec().Enabled, "refused enable must not leave the flag set")

	clean = true
	id, err := s.SaveEnable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p2", id)
	assert.True(t, s.Spec().Enabled)
}

func TestOpen_ResetsSessionState(t *testing.T) {
	backend := &stubBackend{
		validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
			return cleanResult(), nil
		},
		dryRun: func(context.Context, policy.PolicySpec) (*policy.DryRunResult, error) {
			return &policy.DryRunResult{Severity: policy.SeverityInfo}, nil
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))
	s.Open("p1", policy.DefaultPolicy())
	s.SetStep(StepActions)
	s.ValidateNow(context.Background())
	_, err := s.DryRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.Validation())
	require.NotNil(t, s.LastDryRun())

	next := policy.DefaultPolicy()
	next.Name = "other"
	s.Open("p2", next)

	assert.Equal(t, "p2", s.RecordID())
	assert.Equal(t, StepTrigger, s.Step())
	assert.Nil(t, s.Validation(), "previous record's verdict must not leak")
	assert.Nil(t, s.LastDryRun())
	assert.Equal(t, "other", s.Spec().Name)
}

func TestSetStep_RandomAccessWithinRange(t *testing.T) {
	s := NewSession(&stubBackend{validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
		return cleanResult(), nil
	}})

	assert.True(t, s.SetStep(StepReview))
	assert.Equal(t, StepReview, s.Step())
	assert.True(t, s.SetStep(StepConditions))
	assert.False(t, s.SetStep(5))
	assert.False(t, s.SetStep(-1))
	assert.Equal(t, StepConditions, s.Step())
}

func TestDryRunAction_UsesSyntheticPolicy(t *testing.T) {
	var seen policy.PolicySpec
	backend := &stubBackend{
		validate: func(context.Context, policy.PolicySpec) (*policy.ValidationResult, error) {
			return cleanResult(), nil
		},
		dryRun: func(_ context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error) {
			seen = spec
			return &policy.DryRunResult{Severity: policy.SeverityInfo}, nil
		},
	}
	s := NewSession(backend, WithDebounce(time.Hour))
	s.Edit(func(spec policy.PolicySpec) policy.PolicySpec {
		a := policy.DefaultAction()
		a.Capability = "vm.lifecycle"
		a.Verb = "shutdown"
		spec.Actions = append(spec.Actions, a)
		b := policy.DefaultAction()
		b.Capability = "service.control"
		b.Verb = "stop"
		spec.Actions = append(spec.Actions, b)
		return spec
	})

	_, err := s.DryRunAction(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, seen.Actions, 1)
	assert.Equal(t, "service.control", seen.Actions[0].Capability)
	assert.False(t, seen.Enabled)
	assert.Len(t, s.Spec().Actions, 2, "working spec untouched")

	_, err = s.DryRunAction(context.Background(), 7)
	assert.Error(t, err)
}
