package client

import (
	"context"

	"github.com/walnut-ops/walnut/pkg/policy"
	"github.com/walnut-ops/walnut/pkg/wizard"
)

// Backend adapts the client to the editing session's backend interface in
// pkg/wizard: validate-as-you-type, save, and dry run all go through the
// HTTP API.
type Backend struct {
	c *Client
}

var _ wizard.Backend = (*Backend)(nil)

func (c *Client) WizardBackend() *Backend {
	return &Backend{c: c}
}

func (b *Backend) Validate(ctx context.Context, spec policy.PolicySpec) (*policy.ValidationResult, error) {
	return b.c.ValidatePolicy(ctx, spec)
}

// Save creates when id is empty, updates otherwise, and returns the stored
// record id either way.
func (b *Backend) Save(ctx context.Context, id string, spec policy.PolicySpec) (string, error) {
	if id == "" {
		record, _, err := b.c.CreatePolicy(ctx, spec)
		if err != nil {
			return "", err
		}
		return record.ID, nil
	}
	record, _, err := b.c.UpdatePolicy(ctx, id, spec)
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

func (b *Backend) DryRun(ctx context.Context, spec policy.PolicySpec) (*policy.DryRunResult, error) {
	return b.c.DryRunSpec(ctx, spec)
}
